package media

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"net/url"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/model"
)

const thumbMaxDim = 320

type S3Uploader struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	region     string
	publicRead bool
	log        *zap.SugaredLogger
}

func NewS3Uploader(ctx context.Context, region, bucket string, publicRead bool, log *zap.SugaredLogger) (*S3Uploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucket:     bucket,
		region:     region,
		publicRead: publicRead,
		log:        log,
	}, nil
}

// Upload puts the item under a fresh key. Images additionally get a jpeg
// thumbnail; a thumbnail failure is logged, not fatal — the full asset is
// what the message needs.
func (u *S3Uploader) Upload(ctx context.Context, item Item) (Upload, error) {
	key := fmt.Sprintf("media/%s/%s%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString(), path.Ext(item.Name))
	if err := u.put(ctx, key, item.ContentType, item.Data); err != nil {
		return Upload{}, err
	}
	out := Upload{Key: key, URL: u.objectURL(key), Size: int64(len(item.Data))}

	if item.Kind == model.MessageImage {
		thumbKey := key + "_thumb.jpg"
		thumb, err := u.thumbnail(item.Data)
		if err != nil {
			u.log.Warnw("thumbnail generation failed", "key", key, "err", err)
			return out, nil
		}
		if err := u.put(ctx, thumbKey, "image/jpeg", thumb); err != nil {
			u.log.Warnw("thumbnail upload failed", "key", thumbKey, "err", err)
			return out, nil
		}
		out.ThumbnailURL = u.objectURL(thumbKey)
	}
	return out, nil
}

func (u *S3Uploader) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (u *S3Uploader) thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	fitted := imaging.Fit(img, thumbMaxDim, thumbMaxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PresignURL signs a temporary GET for private buckets.
func (u *S3Uploader) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	p := s3.NewPresignClient(u.client)
	req, err := p.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (u *S3Uploader) objectURL(key string) string {
	if !u.publicRead {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, url.PathEscape(key))
}
