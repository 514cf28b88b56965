package kafka

import (
	"cmp"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
)

// Config represents Kafka-specific configuration
type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	Version     string   `mapstructure:"version"`
	ClientID    string   `mapstructure:"clientId"`
	// CreateTopics creates a missing topic on first publish to it.
	CreateTopics bool  `mapstructure:"createTopics"`
	Partitions   int32 `mapstructure:"partitions"`
	Replicas     int16 `mapstructure:"replicas"`
	RetentionMS  int64 `mapstructure:"retentionMs"`
	SASL         SASL  `mapstructure:"sasl"`
	TLS          TLS   `mapstructure:"tls"`
}

// SASL represents SASL authentication configuration
type SASL struct {
	Enable    bool   `mapstructure:"enable"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"` // sha256, sha512 or plain
}

// TLS represents TLS configuration
type TLS struct {
	Enable     bool   `mapstructure:"enable"`
	CertFile   string `mapstructure:"certFile"`
	KeyFile    string `mapstructure:"keyFile"`
	CAFile     string `mapstructure:"caFile"`
	SkipVerify bool   `mapstructure:"skipVerify"`
}

func (c *Config) setDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	c.TopicPrefix = cmp.Or(c.TopicPrefix, "pgtable")
	c.Version = cmp.Or(c.Version, "2.1.0")
	c.ClientID = cmp.Or(c.ClientID, "pgtable")
	c.Partitions = cmp.Or(c.Partitions, 1)
	c.Replicas = cmp.Or(c.Replicas, 1)
	c.RetentionMS = cmp.Or(c.RetentionMS, 7*24*60*60*1000) // 7 days
	c.SASL.Algorithm = cmp.Or(c.SASL.Algorithm, "sha512")
}

// ToSaramaConfig converts the Config to a sarama.Config for a synchronous producer.
func (c *Config) ToSaramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("parse Kafka version: %w", err)
	}
	conf.Version = version

	if c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "plain":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	if c.TLS.Enable {
		tlsConfig, err := createTLSConfiguration(c.TLS)
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 5
	conf.Producer.Retry.Backoff = time.Second
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.ClientID = c.ClientID

	return conf, nil
}

func createTLSConfiguration(tlsCfg TLS) (*tls.Config, error) {
	t := &tls.Config{
		InsecureSkipVerify: tlsCfg.SkipVerify,
	}

	if tlsCfg.CAFile != "" {
		caCert, err := os.ReadFile(tlsCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", tlsCfg.CAFile)
		}
		t.RootCAs = pool
	}

	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}

	return t, nil
}
