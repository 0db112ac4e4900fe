package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// LoadCorpus reads the raw training text from a local path or an
// s3://bucket/key URI.
func LoadCorpus(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, "s3://") {
		bucket, key, err := parseS3URI(path)
		if err != nil {
			return nil, err
		}
		return fetchS3Object(ctx, bucket, key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	return data, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q, want s3://bucket/key", uri)
	}
	return bucket, key, nil
}

func fetchS3Object(ctx context.Context, bucket, key string) ([]byte, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	svc := s3.New(sess)

	out, err := svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
