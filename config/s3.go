package config

type S3Config struct {
    BucketName   string `yaml:"bucket_name"`
    Region       string `yaml:"region"`
    Endpoint     string `yaml:"endpoint"`
    AccessKey    string `yaml:"access_key"`
    SecretKey    string `yaml:"secret_key"`
    UsePathStyle bool   `yaml:"use_path_style"`
}

func (c *S3Config) applyEnv() {
    setString(&c.BucketName, "AWS_S3_BUCKET_NAME")
    setString(&c.Region, "AWS_REGION")
    setString(&c.Endpoint, "AWS_ENDPOINT")
    setString(&c.AccessKey, "AWS_ACCESS_KEY")
    setString(&c.SecretKey, "AWS_SECRET_KEY")
}
