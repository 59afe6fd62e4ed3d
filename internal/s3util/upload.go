package s3util

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// projectTag is the URL-encoded object tagging string for cost allocation.
const projectTag = "Project=scholarship-verification"

// AudioKey is where a student's voice recording is stored.
func AudioKey(studentID, ext string) string {
	if ext == "" {
		ext = ".wav"
	}
	return fmt.Sprintf("audio/%s%s", studentID, ext)
}

// UploadBytes writes data to bucket/key with the project tag.
func UploadBytes(ctx context.Context, client ObjectAPI, bucket, key string, data []byte, contentType string) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Info().Str("key", key).Int("size", len(data)).Msg("Uploaded to S3")
	return nil
}
