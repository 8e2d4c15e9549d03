package enum

// CrawlState 单个source在处理一个sub-window时所处的状态
type CrawlState uint8

const (
	StateIdle CrawlState = iota
	StateListing
	StateFetching
	StateBackoff
	StatePersisting
)

func (s CrawlState) String() string {
	switch s {
	case StateListing:
		return "listing"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	case StatePersisting:
		return "persisting"
	default:
		return "idle"
	}
}

// Order adapter声明的候选文章输出顺序，controller据此决定是否可以提前终止listing
type Order uint8

const (
	OrderUnordered Order = iota
	OrderChronological
	OrderReverseChronological
)

func ParseOrder(s string) Order {
	switch s {
	case "chronological", "asc":
		return OrderChronological
	case "reverse_chronological", "reverse", "desc":
		return OrderReverseChronological
	default:
		return OrderUnordered
	}
}

func (o Order) String() string {
	switch o {
	case OrderChronological:
		return "chronological"
	case OrderReverseChronological:
		return "reverse_chronological"
	default:
		return "unordered"
	}
}

// Decision 去重判断的结果
type Decision uint8

const (
	DecisionInsert Decision = iota
	DecisionUpdateExisting
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionUpdateExisting:
		return "update_existing"
	default:
		return "skip"
	}
}

// Outcome upsert实际落库的结果
type Outcome uint8

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

const (
	// 一次upsert遇到并发唯一键冲突时的最大重试次数
	MaxConflictRetry = 3

	// 与articles.canonical_url、article_labels.label的列宽一致
	MaxURLBytes   = 2048
	MaxLabelBytes = 128

	// 搜索默认/最大返回条数
	DefaultSearchLimit = 200
	MaxSearchLimit     = 1000
)
