package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/cache"
	"gorm.io/gorm"
)

// ErrTopicNotFound is returned when a topic lookup has no match
var ErrTopicNotFound = errors.New("topic not found")

const (
	topicNameCacheTTL = 10 * time.Minute
	topicListCacheKey = "topic:all"
	// hints shorter than this only match when they contain a whole term
	minReverseMatch = 3
)

// TopicService resolves routing topics and their display names
type TopicService struct {
	db    *gorm.DB
	cache *cache.RedisCache
}

// NewTopicService creates a topic service. cache may be nil.
func NewTopicService(db *gorm.DB, cache *cache.RedisCache) *TopicService {
	return &TopicService{
		db:    db,
		cache: cache,
	}
}

// LookupByName returns the topic whose name matches exactly, ignoring case
func (s *TopicService) LookupByName(ctx context.Context, name string) (*model.Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTopicNotFound
	}

	var topic model.Topic
	if err := s.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&topic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("failed to look up topic: %w", err)
	}
	return &topic, nil
}

// ListAll returns every topic ordered by id. The list is cached as JSON
// until InvalidateTopicList or the TTL drops it.
func (s *TopicService) ListAll(ctx context.Context) ([]model.Topic, error) {
	if s.cache != nil {
		var cached []model.Topic
		if err := s.cache.GetJSON(ctx, topicListCacheKey, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, cache.ErrNotFound) {
			log.Printf("[Topic] Warning: cache read failed for %s: %v", topicListCacheKey, err)
		}
	}

	var topics []model.Topic
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, topicListCacheKey, topics, topicNameCacheTTL); err != nil {
			log.Printf("[Topic] Warning: cache write failed for %s: %v", topicListCacheKey, err)
		}
	}
	return topics, nil
}

// InvalidateTopicList drops the cached topic list after topics were seeded
func (s *TopicService) InvalidateTopicList(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, topicListCacheKey)
}

// GetByID fetches a topic by id
func (s *TopicService) GetByID(ctx context.Context, id uint) (*model.Topic, error) {
	var topic model.Topic
	if err := s.db.WithContext(ctx).First(&topic, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("failed to fetch topic: %w", err)
	}
	return &topic, nil
}

// Resolve maps a free-text hint to a topic: exact name first, then keyword
// containment across all topics. Returns nil without error when nothing matches.
func (s *TopicService) Resolve(ctx context.Context, hint string) (*model.Topic, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, nil
	}

	topic, err := s.LookupByName(ctx, hint)
	if err == nil {
		return topic, nil
	}
	if !errors.Is(err, ErrTopicNotFound) {
		return nil, err
	}

	topics, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return matchKeywords(topics, hint), nil
}

// matchKeywords picks the topic with the longest term contained in the hint
// (or containing it). Ties go to the lower id.
func matchKeywords(topics []model.Topic, hint string) *model.Topic {
	hint = strings.ToLower(hint)

	var best *model.Topic
	bestLen := 0
	for i := range topics {
		terms := append([]string{topics[i].Name}, topics[i].Keywords...)
		for _, term := range terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			if strings.Contains(hint, term) || (len(hint) >= minReverseMatch && strings.Contains(term, hint)) {
				if l := len(term); l > bestLen {
					best = &topics[i]
					bestLen = l
				}
			}
		}
	}
	return best
}

// Name returns the display name of a topic, cached in Redis when available
func (s *TopicService) Name(ctx context.Context, id uint) (string, error) {
	key := "topic:name:" + strconv.FormatUint(uint64(id), 10)

	if s.cache != nil {
		if name, err := s.cache.Get(ctx, key); err == nil {
			return name, nil
		} else if !errors.Is(err, cache.ErrNotFound) {
			log.Printf("[Topic] Warning: cache read failed for %s: %v", key, err)
		}
	}

	topic, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, topic.Name, topicNameCacheTTL); err != nil {
			log.Printf("[Topic] Warning: cache write failed for %s: %v", key, err)
		}
	}
	return topic.Name, nil
}
