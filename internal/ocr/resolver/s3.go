package resolver

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
	"github.com/alexberardi/jarvis-ocr-service/pkg/resilience"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Resolver fetches object bytes from AWS S3 or an S3-compatible endpoint
// (MinIO), selected by the kind it was constructed with.
type S3Resolver struct {
	kind    envelope.ImageReferenceKind
	client  *s3.Client
	bucket  string
	breaker *resilience.CircuitBreaker
}

func NewS3Resolver(client *s3.Client, bucket string, breaker *resilience.CircuitBreaker) *S3Resolver {
	return &S3Resolver{kind: envelope.KindS3, client: client, bucket: bucket, breaker: breaker}
}

func NewMinioResolver(client *s3.Client, bucket string, breaker *resilience.CircuitBreaker) *S3Resolver {
	return &S3Resolver{kind: envelope.KindMinio, client: client, bucket: bucket, breaker: breaker}
}

func (r *S3Resolver) Kind() envelope.ImageReferenceKind { return r.kind }

func (r *S3Resolver) Resolve(ctx context.Context, ref envelope.ImageReference) (Resolved, error) {
	bucket, key, err := parseObjectRef(ref.Value, r.bucket)
	if err != nil {
		return Resolved{}, ocrerr.Wrap(ocrerr.CodeBadRequest, "unparseable object reference", err)
	}

	out, err := r.getObject(ctx, bucket, key)
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if ok := asResponseError(err, &respErr); ok && respErr.HTTPStatusCode() == 404 {
			return Resolved{}, ocrerr.Wrap(ocrerr.CodeImageNotFound, "object not found", err)
		}
		return Resolved{}, fmt.Errorf("fetch object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Resolved{}, fmt.Errorf("read object body %s/%s: %w", bucket, key, err)
	}

	return Resolved{Bytes: data}, nil
}

// getObject runs the GetObject call through the resolver's circuit breaker,
// the same guard every other external collaborator (validator, state
// store, LLM drivers) goes through.
func (r *S3Resolver) getObject(ctx context.Context, bucket, key string) (*s3.GetObjectOutput, error) {
	result, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return r.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return nil, err
	}
	return result.(*s3.GetObjectOutput), nil
}

// parseObjectRef accepts either `s3://bucket/key` or a bare `key`, in which
// case defaultBucket is used.
func parseObjectRef(ref, defaultBucket string) (bucket, key string, err error) {
	if strings.HasPrefix(ref, "s3://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", "", err
		}
		return u.Host, strings.TrimPrefix(u.Path, "/"), nil
	}
	if defaultBucket == "" {
		return "", "", fmt.Errorf("no bucket in reference %q and no default bucket configured", ref)
	}
	return defaultBucket, ref, nil
}

func asResponseError(err error, target **smithyhttp.ResponseError) bool {
	for err != nil {
		if re, ok := err.(*smithyhttp.ResponseError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
