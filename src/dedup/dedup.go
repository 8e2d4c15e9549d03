// Package dedup 决定一篇候选文章是插入、更新已有记录还是丢弃
// 只包含策略，不涉及存储，repository在事务内调用
package dedup

import (
	"context"

	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
)

// Lookup 按主/次去重键查找已存在的文章，不存在时返回nil, nil
type Lookup interface {
	ByCanonicalURL(ctx context.Context, canonicalURL string) (*entity.Article, error)
	ByContentHash(ctx context.Context, contentHash string) (*entity.Article, error)
}

// Decide
//   - url已存在：正文未变则Skip；新正文与另一篇文章相同则Skip（身份不明确）；否则UpdateExisting
//   - url不存在但正文hash已存在：换url重新发布，Skip
//   - 都不存在：Insert
func Decide(candidate entity.Article, byURL, byHash *entity.Article) enum.Decision {
	if byURL != nil {
		if byURL.ContentHash == candidate.ContentHash {
			return enum.DecisionSkip
		}
		if byHash != nil && byHash.ID != byURL.ID {
			return enum.DecisionSkip
		}
		return enum.DecisionUpdateExisting
	}
	if byHash != nil {
		return enum.DecisionSkip
	}
	return enum.DecisionInsert
}

// Resolve 查询两个去重键后做决定，返回值中的existing为决定所针对的已存在文章（Insert时为nil）
func Resolve(ctx context.Context, lookup Lookup, candidate entity.Article) (enum.Decision, *entity.Article, error) {
	byURL, err := lookup.ByCanonicalURL(ctx, candidate.CanonicalURL)
	if err != nil {
		return enum.DecisionSkip, nil, err
	}
	byHash, err := lookup.ByContentHash(ctx, candidate.ContentHash)
	if err != nil {
		return enum.DecisionSkip, nil, err
	}

	decision := Decide(candidate, byURL, byHash)
	existing := byURL
	if existing == nil {
		existing = byHash
	}
	return decision, existing, nil
}
