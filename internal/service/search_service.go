package service

import (
	"context"
	"errors"
	"strings"

	"nutri-snap-go/internal/model"
)

// ErrSearchDisabled 表示未配置检索索引。
var ErrSearchDisabled = errors.New("nutrition search is disabled")

// DefaultSearchSize 是单次检索返回的最大条目数。
const DefaultSearchSize = 20

// NutritionSearcher 在检索索引中按所有者查询营养条目。
type NutritionSearcher interface {
	Search(ctx context.Context, ownerID, query string, size int) ([]model.NutritionSearchHit, error)
}

// SearchService 接口定义了营养条目的检索。
type SearchService interface {
	Search(ctx context.Context, ownerID, query string) ([]model.NutritionSearchHit, error)
}

type searchService struct {
	searcher NutritionSearcher
}

// NewSearchService 创建一个新的 SearchService 实例。searcher 为 nil 时检索不可用。
func NewSearchService(searcher NutritionSearcher) SearchService {
	return &searchService{searcher: searcher}
}

func (s *searchService) Search(ctx context.Context, ownerID, query string) ([]model.NutritionSearchHit, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.NutritionSearchHit{}, nil
	}
	hits, err := s.searcher.Search(ctx, ownerID, query, DefaultSearchSize)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []model.NutritionSearchHit{}
	}
	return hits, nil
}
