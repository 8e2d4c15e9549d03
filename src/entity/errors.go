package entity

import (
	"fmt"
)

// FetchErrorKind 抓取失败的分类
type FetchErrorKind string

const (
	FetchTimeout      FetchErrorKind = "timeout"
	FetchHTTPStatus   FetchErrorKind = "http_status"
	FetchTransport    FetchErrorKind = "transport"
	FetchParseFailure FetchErrorKind = "parse_failure"
)

// FetchError adapter list/fetch失败时返回的错误
// Retryable 由adapter（下载器）负责判断：5xx、超时、连接错误可重试；404、无法解析的内容不可重试
type FetchError struct {
	Kind      FetchErrorKind
	URL       string
	Status    int
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func NewParseFailure(url string, err error) *FetchError {
	return &FetchError{Kind: FetchParseFailure, URL: url, Err: err}
}
