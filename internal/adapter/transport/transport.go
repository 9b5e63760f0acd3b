package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/imroc/req/v3"
	"github.com/jgivc/fileforager/internal/common"
	"github.com/jgivc/fileforager/internal/config"
	"github.com/redis/go-redis/v9"
)

// client is the upload side of the ingestion boundary: file bytes go out as a
// multipart POST, notifications as redis pub/sub messages. Both calls either
// complete or return an error; no retries happen here.
type client struct {
	http *req.Client
	rdb  *redis.Client
	cfg  *config.TransportConfig
	log  *slog.Logger
}

func NewClient(cfg *config.TransportConfig, log *slog.Logger) (*client, error) {
	httpc := req.C().SetUserAgent("fileforager")
	if cfg.Token != "" {
		httpc.SetCommonBearerAuthToken(cfg.Token)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cannot parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
	}

	return &client{
		http: httpc,
		rdb:  rdb,
		cfg:  cfg,
		log:  log.With(slog.String("item", "TransportClient")),
	}, nil
}

// Upload ships the file and its metadata to the ingestion endpoint. The
// timestamp is nanoseconds since epoch; keep asks the remote side to retain
// its copy.
func (c *client) Upload(ctx context.Context, path string, meta map[string]string, timestamp int64, keep bool) error {
	if c.cfg.Endpoint == "" {
		return common.ErrNoTransportEndpoint
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(meta).
		SetQueryParam("timestamp", strconv.FormatInt(timestamp, 10)).
		SetQueryParam("keep", strconv.FormatBool(keep)).
		Post(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("cannot upload file: %w", err)
	}

	if resp.IsErrorState() {
		return fmt.Errorf("upload rejected: %s", resp.Status)
	}

	return nil
}

// Publish sends a free-form notification to the channel named by the topic
// prefix and topic. Without a configured redis URL it is a no-op.
func (c *client) Publish(ctx context.Context, topic, message string) error {
	if c.rdb == nil {
		return nil
	}

	if err := c.rdb.Publish(ctx, c.channel(topic), message).Err(); err != nil {
		return fmt.Errorf("cannot publish to %s: %w", topic, err)
	}

	return nil
}

func (c *client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}

	return nil
}

func (c *client) channel(topic string) string {
	return c.cfg.TopicPrefix + "." + topic
}
