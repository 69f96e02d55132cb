package mocks

import (
	"context"
	"time"

	redisClient "github.com/alexberardi/jarvis-ocr-service/pkg/redis"
	"github.com/stretchr/testify/mock"
)

// MockRedisClient is a mock implementation of the Redis client
type MockRedisClient struct {
	mock.Mock
}

// Ensure MockRedisClient implements ClientInterface
var _ redisClient.ClientInterface = (*MockRedisClient)(nil)

// SetWithExpiration mocks setting a key with expiration
func (m *MockRedisClient) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

// GetString mocks getting a string value
func (m *MockRedisClient) GetString(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// SetNXWithExpiration mocks a conditional set-if-not-exists with expiration
func (m *MockRedisClient) SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

// RPush mocks pushing values onto the tail of a list
func (m *MockRedisClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	args := m.Called(ctx, key, values)
	return args.Error(0)
}

// LRange mocks reading a slice of a list
func (m *MockRedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	args := m.Called(ctx, key, start, stop)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// BLPop mocks a blocking pop from the head of one or more lists
func (m *MockRedisClient) BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	args := m.Called(ctx, timeout, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Eval mocks running a Lua script
func (m *MockRedisClient) Eval(ctx context.Context, script string, keys []string, scriptArgs ...interface{}) (interface{}, error) {
	args := m.Called(ctx, script, keys, scriptArgs)
	return args.Get(0), args.Error(1)
}

// Delete mocks deleting a key
func (m *MockRedisClient) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

// Exists mocks checking if a key exists
func (m *MockRedisClient) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// Expire mocks setting expiration on a key
func (m *MockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	args := m.Called(ctx, key, expiration)
	return args.Error(0)
}

// Close mocks closing the client
func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ZAdd mocks adding a member to a sorted set
func (m *MockRedisClient) ZAdd(ctx context.Context, key string, member string, score float64) error {
	args := m.Called(ctx, key, member, score)
	return args.Error(0)
}

// ZRangeByScore mocks reading members of a sorted set within a score range
func (m *MockRedisClient) ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	args := m.Called(ctx, key, min, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// ZRem mocks removing members from a sorted set
func (m *MockRedisClient) ZRem(ctx context.Context, key string, members ...string) error {
	args := m.Called(ctx, key, members)
	return args.Error(0)
}
