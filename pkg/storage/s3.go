package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// MaxQuestionSetSize is the maximum accepted size of an uploaded question set (1MB).
	MaxQuestionSetSize = 1 << 20
	// FolderQuestionSets is the S3 prefix for uploaded question sets.
	FolderQuestionSets = "question-sets"
	// QuestionSetContentType is the content type stored with question sets.
	QuestionSetContentType = "application/json"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// S3Config holds S3 client configuration.
type S3Config struct {
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	Endpoint           string
	QuestionSetsBucket string
}

// S3 stores and loads question set documents.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.QuestionSetsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client)
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// QuestionSetKey returns the object key: question-sets/{host_id}/{set_id}.json.
func QuestionSetKey(hostID, setID string) string {
	return path.Join(FolderQuestionSets, hostID, setID+".json")
}

// OwnedBy reports whether key lives under the question-set folder of hostID.
func OwnedBy(key, hostID string) bool {
	clean := path.Clean(key)
	return clean == key && strings.HasPrefix(clean, path.Join(FolderQuestionSets, hostID)+"/")
}

// Bucket returns the question sets bucket name.
func (s *S3) Bucket() string { return s.cfg.QuestionSetsBucket }

// PutQuestionSet stores a question set document under key.
func (s *S3) PutQuestionSet(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.QuestionSetsBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(QuestionSetContentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("question set stored", zap.String("key", key))
	return nil
}

// OpenQuestionSet returns the body of a stored question set. Caller must close it.
func (s *S3) OpenQuestionSet(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.QuestionSetsBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}
