package configuration

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"publish-pipeline/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	RedisClient RedisClient `json:"redisClient"`
	Pubsub      Pubsub      `json:"pubsub"`
	ServiceBus  ServiceBus  `json:"serviceBus"`
	Providers   Providers   `json:"providers"`
	Media       Media       `json:"media"`
	Publish     Publish     `json:"publish"`
}

type App struct {
	Port        int    `json:"port"`
	SecretKey   string `json:"secretKey"` // HS256 secret for scheduling-layer service tokens
	FrontendURL string `json:"frontendURL"`
	TLSEnabled  bool   `json:"tlsEnabled"`
	TLSCertFile string `json:"tlsCertFile"`
	TLSKeyFile  string `json:"tlsKeyFile"`
}

type Database struct {
	Vendor string `json:"vendor"` // postgres | mssql | mysql
	Psql   Db     `json:"psql"`
	MySql  Db     `json:"mysql"`
	Mssql  Db     `json:"mssql"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisClient struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type Pubsub struct {
	ProjectID string `json:"projectID"`
	Topic     string `json:"topic"`
}

type ServiceBus struct {
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
}

type Media struct {
	AllowedTypes            string `json:"allowedTypes"`
	MaxImageBytes           int64  `json:"maxImageBytes"`
	MaxVideoBytes           int64  `json:"maxVideoBytes"`
	StorageProvider         string `json:"storageProvider"` // local | s3 | cloudflare
	LocalDir                string `json:"localDir"`
	PublicURL               string `json:"publicURL"`
	S3                      S3     `json:"s3"`
	ConversionServiceURL    string `json:"conversionServiceURL"`
	DisableImageCompression bool   `json:"disableImageCompression"`
}

type S3 struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	PublicURL string `json:"publicURL"`
}

type Publish struct {
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
	MaxPolls            int `json:"maxPolls"`
	RequestsPerMinute   int `json:"requestsPerMinute"`
}

func (p Publish) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

var C Config

func init() {
	LoadEnvFromFile("config.env", ".env")
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initProviders(&C)
	initMedia(&C)
	initPublish(&C)
	initMessaging(&C)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	C.Database.Vendor = getConfigValue(C.Database.Vendor, "DB_VENDOR", "postgres")

	C.Database.Psql.Name = getConfigValue(C.Database.Psql.Name, "DB_NAME", "")
	C.Database.Psql.Host = getConfigValue(C.Database.Psql.Host, "DB_HOST", "localhost")
	C.Database.Psql.Port = getConfigValue(C.Database.Psql.Port, "DB_PORT", "5432")
	C.Database.Psql.User = getConfigValue(C.Database.Psql.User, "DB_USER", "")
	C.Database.Psql.Password = getConfigValue(C.Database.Psql.Password, "DB_PASSWORD", "")

	C.Database.Mssql.Name = getConfigValue(C.Database.Mssql.Name, "MSSQL_DB_NAME", "")
	C.Database.Mssql.Host = getConfigValue(C.Database.Mssql.Host, "MSSQL_HOST", "localhost")
	C.Database.Mssql.Port = getConfigValue(C.Database.Mssql.Port, "MSSQL_PORT", "1433")
	C.Database.Mssql.User = getConfigValue(C.Database.Mssql.User, "MSSQL_USER", "sa")
	C.Database.Mssql.Password = getConfigValue(C.Database.Mssql.Password, "MSSQL_PASSWORD", "")

	C.Database.MySql.Name = getConfigValue(C.Database.MySql.Name, "MYSQL_DB_NAME", "")
	C.Database.MySql.Host = getConfigValue(C.Database.MySql.Host, "MYSQL_HOST", "localhost")
	C.Database.MySql.Port = getConfigValue(C.Database.MySql.Port, "MYSQL_PORT", "3306")
	C.Database.MySql.User = getConfigValue(C.Database.MySql.User, "MYSQL_USER", "root")
	C.Database.MySql.Password = getConfigValue(C.Database.MySql.Password, "MYSQL_PASSWORD", "")

	C.RedisClient.Host = getConfigValue(C.RedisClient.Host, "REDIS_HOST", "")
	C.RedisClient.Port = getConfigValue(C.RedisClient.Port, "REDIS_PORT", "6379")
	C.RedisClient.Password = getConfigValue(C.RedisClient.Password, "REDIS_PASSWORD", "")
}

func initApp(C *Config) {
	// SECRET_KEY from the environment overrides the config file
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order: APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch v {
		case "1", "true", "TRUE", "True":
			C.App.TLSEnabled = true
		case "0", "false", "FALSE", "False":
			C.App.TLSEnabled = false
		}
	}
	C.App.TLSCertFile = getConfigValue(C.App.TLSCertFile, "TLS_CERT_FILE", "")
	C.App.TLSKeyFile = getConfigValue(C.App.TLSKeyFile, "TLS_KEY_FILE", "")
	scheme := "http"
	if C.App.TLSEnabled {
		scheme = "https"
	}
	C.App.FrontendURL = getConfigValue(C.App.FrontendURL, "FRONTEND_URL", fmt.Sprintf("%s://localhost:%d", scheme, C.App.Port))
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; service token verification will reject every request. Provide SECRET_KEY via environment.")
	}
}

func initMedia(C *Config) {
	C.Media.AllowedTypes = getConfigValue(C.Media.AllowedTypes, "MEDIA_ALLOWED_TYPES", "image/*,video/mp4")
	if C.Media.MaxImageBytes == 0 {
		C.Media.MaxImageBytes = 30 * 1024 * 1024
	}
	if C.Media.MaxVideoBytes == 0 {
		C.Media.MaxVideoBytes = 1000 * 1024 * 1024
	}
	C.Media.StorageProvider = getConfigValue(C.Media.StorageProvider, "STORAGE_PROVIDER", "local")
	C.Media.LocalDir = getConfigValue(C.Media.LocalDir, "UPLOAD_DIRECTORY", "uploads")
	C.Media.PublicURL = getConfigValue(C.Media.PublicURL, "UPLOAD_PUBLIC_URL", C.App.FrontendURL+"/uploads")
	C.Media.S3.Bucket = getConfigValue(C.Media.S3.Bucket, "S3_BUCKET", "")
	C.Media.S3.Region = getConfigValue(C.Media.S3.Region, "S3_REGION", "auto")
	C.Media.S3.Endpoint = getConfigValue(C.Media.S3.Endpoint, "S3_ENDPOINT", "")
	C.Media.S3.PublicURL = getConfigValue(C.Media.S3.PublicURL, "S3_PUBLIC_URL", "")
	C.Media.ConversionServiceURL = getConfigValue(C.Media.ConversionServiceURL, "CONVERSION_SERVICE_URL", "http://localhost:8000")
	if v := os.Getenv("DISABLE_IMAGE_COMPRESSION"); v == "true" || v == "1" {
		C.Media.DisableImageCompression = true
	}
}

func initPublish(C *Config) {
	if C.Publish.PollIntervalSeconds <= 0 {
		C.Publish.PollIntervalSeconds = 10
	}
	if C.Publish.MaxPolls <= 0 {
		C.Publish.MaxPolls = 60
	}
	if C.Publish.RequestsPerMinute == 0 {
		C.Publish.RequestsPerMinute = 600
	}
}

func initMessaging(C *Config) {
	C.Pubsub.ProjectID = getConfigValue(C.Pubsub.ProjectID, "GOOGLE_CLOUD_PROJECT", "")
	C.Pubsub.Topic = getConfigValue(C.Pubsub.Topic, "PUBSUB_TOPIC", "publish-events")
	C.ServiceBus.Namespace = getConfigValue(C.ServiceBus.Namespace, "SERVICEBUS_NAMESPACE", "")
	C.ServiceBus.Queue = getConfigValue(C.ServiceBus.Queue, "SERVICEBUS_QUEUE", "publish-events")
}
