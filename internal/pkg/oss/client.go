package oss

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/cv_score_server/config"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type Client struct {
	client        *oss.Client
	bucket        *oss.Bucket
	bucketName    string
	expireSeconds int64
}

// PresignedUpload 前端直传所需的信息，Fields 为上传时必须携带的请求头
type PresignedUpload struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
	Key    string            `json:"key"`
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	expire := cfg.PresignExpireSeconds
	if expire <= 0 {
		expire = 3600 // 默认1小时
	}

	return &Client{
		client:        client,
		bucket:        bucket,
		bucketName:    cfg.BucketName,
		expireSeconds: expire,
	}, nil
}

// SanitizeFilename 只保留字母、数字和 . _ -，其他字符替换为 _
func SanitizeFilename(filename string) string {
	name := unsafeChars.ReplaceAllString(filename, "_")
	if name == "" {
		return "file"
	}
	return name
}

// UserPrefix 用户简历对象的命名空间
func UserPrefix(userID int64) string {
	return fmt.Sprintf("users/%d/cvs/", userID)
}

// ObjectKey 生成 users/{userId}/cvs/{timestamp}-{filename} 形式的 key
func ObjectKey(userID int64, filename string, now time.Time) string {
	return fmt.Sprintf("%s%d-%s", UserPrefix(userID), now.UnixMilli(), SanitizeFilename(filename))
}

// IsUserKey 检查 key 是否属于该用户的命名空间
func IsUserKey(userID int64, key string) bool {
	prefix := UserPrefix(userID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	name := strings.TrimPrefix(key, prefix)
	return name != "" && !strings.Contains(name, "/")
}

// PresignedDownloadURL 生成有时效的下载地址
func (c *Client) PresignedDownloadURL(objectKey string) (string, error) {
	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, c.expireSeconds)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return signedURL, nil
}

// PresignedUploadURL 生成有时效的直传地址
func (c *Client) PresignedUploadURL(userID int64, filename, contentType string) (*PresignedUpload, error) {
	objectKey := ObjectKey(userID, filename, time.Now())

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPPut, c.expireSeconds, oss.ContentType(contentType))
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload URL: %w", err)
	}

	return &PresignedUpload{
		URL:    signedURL,
		Fields: map[string]string{"Content-Type": contentType},
		Key:    objectKey,
	}, nil
}

// DeleteObject 删除文件
func (c *Client) DeleteObject(objectKey string) error {
	err := c.bucket.DeleteObject(objectKey)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
