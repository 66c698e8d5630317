package tablecache

import (
	"bytes"
	"context"
	"time"

	"github.com/prashanthpai/tablecache/cache"

	redis "github.com/go-redis/redis/v8"
	msgpack "github.com/vmihailenco/msgpack/v4"
)

// RedisSnapshotter persists cache images in redis with go-redis as the redis
// client library, so that a cache can be warmed up across restarts.
type RedisSnapshotter struct {
	c   redis.UniversalClient
	key string
}

// Save stores img in redis with the provided TTL duration. Zero TTL means the
// image does not expire.
func (r *RedisSnapshotter) Save(ctx context.Context, img cache.Image, ttl time.Duration) error {
	b, err := encodeImage(img)
	if err != nil {
		return err
	}

	return r.c.Set(ctx, r.key, b, ttl).Err()
}

// Load gets the last saved image from redis. Returns cache.ErrNoSnapshot when
// nothing has been saved.
func (r *RedisSnapshotter) Load(ctx context.Context) (cache.Image, error) {
	b, err := r.c.Get(ctx, r.key).Bytes()
	switch err {
	case nil:
		return decodeImage(b)
	case redis.Nil:
		return nil, cache.ErrNoSnapshot
	default:
		return nil, err
	}
}

// NewRedisSnapshotter creates a new instance of redis snapshotter using
// go-redis client. The image is stored under keyPrefix + "snapshot".
func NewRedisSnapshotter(c redis.UniversalClient, keyPrefix string) *RedisSnapshotter {
	return &RedisSnapshotter{
		c:   c,
		key: keyPrefix + "snapshot",
	}
}

func encodeImage(img cache.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf).SortMapKeys(true)
	if err := enc.Encode(img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeImage(b []byte) (cache.Image, error) {
	// loose decoding turns every integer into int64, as driver.Value wants
	dec := msgpack.NewDecoder(bytes.NewReader(b)).UseDecodeInterfaceLoose(true)

	var img cache.Image
	if err := dec.Decode(&img); err != nil {
		return nil, err
	}
	return img, nil
}
