package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/newscrawler/src/core"
	"github.com/andrewyi/newscrawler/src/search"
)

func (s *Server) Crawl(ctx context.Context, c *cli.Context) error {
	lookback := c.Duration("lookback")
	if lookback <= 0 {
		lookback = s.config.Crawl.Lookback
	}
	report, err := s.orchestrator.Crawl(ctx, lookback)
	if report != nil {
		s.renderReport(report)
	}
	return err
}

func (s *Server) renderReport(report *core.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("run " + report.RunID)
	t.AppendHeader(table.Row{"Source", "Windows", "Failed Windows", "Fetched", "Inserted", "Updated", "Skipped", "Failed", "High Water Mark", "Error"})
	for _, r := range report.Sources {
		hwm := ""
		if !r.HighWaterMark.IsZero() {
			hwm = r.HighWaterMark.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{r.Source, r.Windows, r.WindowsFailed, r.Fetched, r.Inserted, r.Updated, r.Skipped, r.Failed, hwm, r.Error})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "took", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)})
	t.Render()
}

func (s *Server) Search(ctx context.Context, c *cli.Context) error {
	var (
		q   search.Query
		err error
	)
	q.Keywords = c.Args()
	if q.From, err = search.ParseDate(c.String("from"), false); err != nil {
		return err
	}
	if q.To, err = search.ParseDate(c.String("to"), true); err != nil {
		return err
	}
	q.Labels = c.StringSlice("label")
	q.Sources = c.StringSlice("source")
	q.Limit = search.PageLimit(c.Int("limit"))
	q.Offset = c.Int("offset")

	hits, err := s.engine.Search(ctx, q)
	if err != nil {
		return err
	}
	s.renderHits(hits)
	return nil
}

func (s *Server) renderHits(hits []search.Hit) {
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Score", "Published", "Source", "Title", "Labels", "URL"})
	for _, h := range hits {
		published := ""
		if h.PublishedAt != nil {
			published = h.PublishedAt.Format("2006-01-02")
		}
		t.AppendRow(table.Row{h.ID, h.Score, published, h.Source, h.Title, strings.Join(h.Labels, ","), h.URL})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d hits", len(hits))})
	t.Render()
}

func (s *Server) Article(ctx context.Context, c *cli.Context) error {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return errors.New("usage: article ID")
	}
	a, err := s.dbStorage.Get(ctx, id)
	if err != nil {
		return err
	}
	published := "-"
	if a.PublishedAt != nil {
		published = a.PublishedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(s.out, "%s\n%s\n\nid: %d\nsource: %s\npublished: %s\nfetched: %s\nlabels: %s\n\n%s\n",
		a.Title, a.CanonicalURL, a.ID, a.Source, published, a.FetchedAt.Format(time.RFC3339),
		strings.Join(a.Labels, ", "), a.Body)
	return nil
}

func (s *Server) Reindex(ctx context.Context, c *cli.Context) error {
	n, err := s.dbStorage.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "reindexed %d articles\n", n)
	return nil
}
