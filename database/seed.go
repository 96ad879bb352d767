package database

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TopicFile is the on-disk layout of a topic seed file
type TopicFile struct {
	Topics []model.Topic `yaml:"topics"`
}

// LoadTopicFile reads topics from a YAML file
func LoadTopicFile(path string) ([]model.Topic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topic file: %w", err)
	}
	defer f.Close()

	return DecodeTopics(f)
}

// DecodeTopics parses a YAML topic document, dropping entries without a name
func DecodeTopics(r io.Reader) ([]model.Topic, error) {
	var file TopicFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode topic file: %w", err)
	}

	topics := make([]model.Topic, 0, len(file.Topics))
	for _, t := range file.Topics {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			log.Println("Warning: skipping topic without a name")
			continue
		}
		keywords := make(model.StringArray, 0, len(t.Keywords))
		for _, k := range t.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		t.Keywords = keywords
		topics = append(topics, t)
	}
	return topics, nil
}

// SeedTopics upserts topics by name, refreshing description and keywords of existing rows
func SeedTopics(ctx context.Context, db *gorm.DB, topics []model.Topic) (int, error) {
	if len(topics) == 0 {
		return 0, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range topics {
			topic := topics[i]
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"description", "keywords", "updated_at"}),
			}).Create(&topic).Error; err != nil {
				return fmt.Errorf("failed to upsert topic %q: %w", topic.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Printf("[Seed] Upserted %d topics", len(topics))
	return len(topics), nil
}
