// Package s3 provides S3 compatible blob storage options.
package s3

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docqa/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains S3 client configuration. An empty Bucket selects the
// in-memory blob store.
type Options struct {
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	Region          string        `json:"region" mapstructure:"region"`
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string        `json:"-" mapstructure:"access-key-id"`
	SecretAccessKey string        `json:"-" mapstructure:"secret-access-key"`
	UsePathStyle    bool          `json:"use-path-style" mapstructure:"use-path-style"`
	PresignExpiry   time.Duration `json:"presign-expiry" mapstructure:"presign-expiry"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Region:        "us-east-1",
		PresignExpiry: 24 * time.Hour,
	}
}

// Enabled reports whether a bucket is configured.
func (o *Options) Enabled() bool {
	return o != nil && o.Bucket != ""
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "s3."
	fs.StringVar(&o.Bucket, p+"bucket", o.Bucket, "Bucket storing uploaded PDFs, empty keeps them in memory.")
	fs.StringVar(&o.Region, p+"region", o.Region, "S3 region.")
	fs.StringVar(&o.Endpoint, p+"endpoint", o.Endpoint, "Custom endpoint for S3 compatible stores (MinIO, R2).")
	fs.StringVar(&o.AccessKeyID, p+"access-key-id", o.AccessKeyID, "Static access key id, defaults to the AWS credential chain.")
	fs.StringVar(&o.SecretAccessKey, p+"secret-access-key", o.SecretAccessKey, "Static secret access key.")
	fs.BoolVar(&o.UsePathStyle, p+"use-path-style", o.UsePathStyle, "Use path style addressing.")
	fs.DurationVar(&o.PresignExpiry, p+"presign-expiry", o.PresignExpiry, "Lifetime of presigned document URLs.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}
	var errs []error
	if o.Region == "" {
		errs = append(errs, fmt.Errorf("s3.region is required"))
	}
	if (o.AccessKeyID == "") != (o.SecretAccessKey == "") {
		errs = append(errs, fmt.Errorf("s3.access-key-id and s3.secret-access-key must be set together"))
	}
	if o.PresignExpiry <= 0 || o.PresignExpiry > 7*24*time.Hour {
		errs = append(errs, fmt.Errorf("s3.presign-expiry must be within (0, 168h]"))
	}
	return errs
}
