package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// PutObjectAPI is the part of the S3 client the exporter uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Location is a bucket plus key prefix.
type Location struct {
	Bucket string
	Prefix string
}

// ParseS3URI splits an s3://bucket/prefix URI.
func ParseS3URI(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse s3 uri: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return Location{}, fmt.Errorf("parse s3 uri %q: want s3://bucket[/prefix]", uri)
	}
	return Location{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

// Key joins the location prefix and name.
func (l Location) Key(name string) string {
	if l.Prefix == "" {
		return name
	}
	return path.Join(l.Prefix, name)
}

func (l Location) String() string {
	return "s3://" + path.Join(l.Bucket, l.Prefix)
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// An empty region defers to the environment.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// S3Exporter uploads benchmark artifacts under one location.
type S3Exporter struct {
	client PutObjectAPI
	loc    Location
	log    *zap.Logger
}

// NewS3Exporter creates an exporter writing to loc.
func NewS3Exporter(client PutObjectAPI, loc Location, log *zap.Logger) *S3Exporter {
	return &S3Exporter{client: client, loc: loc, log: log}
}

// Upload stores body under name and returns the object URI.
func (e *S3Exporter) Upload(ctx context.Context, name, contentType string, body []byte) (string, error) {
	key := e.loc.Key(name)
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.loc.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", e.loc.Bucket, key, err)
	}
	uri := "s3://" + e.loc.Bucket + "/" + key
	e.log.Info("uploaded artifact", zap.String("uri", uri), zap.Int("bytes", len(body)))
	return uri, nil
}

// Artifact is one named file to upload.
type Artifact struct {
	Name        string
	ContentType string
	Body        []byte
}

// UploadAll uploads artifacts in order and stops at the first failure.
func (e *S3Exporter) UploadAll(ctx context.Context, artifacts []Artifact) ([]string, error) {
	uris := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		uri, err := e.Upload(ctx, a.Name, a.ContentType, a.Body)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}
