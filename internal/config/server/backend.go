package server

import "fmt"

type BackendServerConfig struct {
	Name  string             `mapstructure:"name"  yaml:"name"`
	Type  string             `mapstructure:"type"  yaml:"type"`
	Local LocalBackendConfig `mapstructure:"local" yaml:"local,omitempty"`
	Minio MinioBackendConfig `mapstructure:"minio" yaml:"minio,omitempty"`
	S3    S3BackendConfig    `mapstructure:"s3"    yaml:"s3,omitempty"`
}

type LocalBackendConfig struct {
	Root string `mapstructure:"root" yaml:"root,omitempty"`
}

type MinioBackendConfig struct {
	Endpoint     string `mapstructure:"endpoint"      yaml:"endpoint,omitempty"`
	AccessKey    string `mapstructure:"access_key"    yaml:"access_key,omitempty"`
	SecretKey    string `mapstructure:"secret_key"    yaml:"secret_key,omitempty"`
	Region       string `mapstructure:"region"        yaml:"region,omitempty"`
	Bucket       string `mapstructure:"bucket"        yaml:"bucket,omitempty"`
	Prefix       string `mapstructure:"prefix"        yaml:"prefix,omitempty"`
	UseSSL       bool   `mapstructure:"use_ssl"       yaml:"use_ssl,omitempty"`
	CreateBucket bool   `mapstructure:"create_bucket" yaml:"create_bucket,omitempty"`
}

type S3BackendConfig struct {
	Region         string `mapstructure:"region"           yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint"         yaml:"endpoint,omitempty"`
	AccessKey      string `mapstructure:"access_key"       yaml:"access_key,omitempty"`
	SecretKey      string `mapstructure:"secret_key"       yaml:"secret_key,omitempty"`
	Bucket         string `mapstructure:"bucket"           yaml:"bucket,omitempty"`
	Prefix         string `mapstructure:"prefix"           yaml:"prefix,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
	PublicACL      bool   `mapstructure:"public_acl"       yaml:"public_acl,omitempty"`
}

func (cfg BackendServerConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch cfg.Type {
	case "local":
		if cfg.Local.Root == "" {
			return fmt.Errorf("backend '%s': local.root is required", cfg.Name)
		}
	case "minio":
		if cfg.Minio.Endpoint == "" || cfg.Minio.Bucket == "" {
			return fmt.Errorf("backend '%s': minio.endpoint and minio.bucket are required", cfg.Name)
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("backend '%s': s3.bucket is required", cfg.Name)
		}
	default:
		return fmt.Errorf("backend '%s': unsupported type '%s'", cfg.Name, cfg.Type)
	}
	return nil
}
