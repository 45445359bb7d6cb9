package s3store

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/obserr"
)

// ClientPool builds the S3 client once, on first use, and hands the same
// goroutine safe client to every caller.
type ClientPool struct {
	cfg config.S3Config

	once sync.Once
	cli  s3iface.S3API
	err  error
}

func NewClientPool(cfg config.S3Config) *ClientPool {
	return &ClientPool{cfg: cfg}
}

// NewClientPoolWith wraps an existing client, mostly for tests.
func NewClientPoolWith(cli s3iface.S3API) *ClientPool {
	p := &ClientPool{cli: cli}
	p.once.Do(func() {})
	return p
}

func (p *ClientPool) Client() (s3iface.S3API, error) {
	p.once.Do(func() {
		p.cli, p.err = newClient(p.cfg)
	})
	return p.cli, p.err
}

func newClient(cfg config.S3Config) (*s3.S3, error) {
	var creds *credentials.Credentials
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	awsCfg := &aws.Config{
		Credentials:      creds,
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
		DisableSSL:       aws.Bool(cfg.DisableSSL),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	// shared config lets AWS_PROFILE and ~/.aws/config fill in the rest
	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, obserr.New(obserr.KindConfiguration, "create aws session", err)
	}
	logrus.WithField("backend", "s3").
		WithField("endpoint", cfg.Endpoint).
		WithField("region", aws.StringValue(awsSession.Config.Region)).
		Debugln("s3 client created")
	return s3.New(awsSession), nil
}
