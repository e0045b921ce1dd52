package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

const (
	stockPageSize = 20
	stockMaxPages = 3
)

// StockSearch queries Pixabay and Pexels and merges the hits. Both providers
// are best effort; one failing does not fail the search unless both do.
type StockSearch struct {
	PixabayAPIKey string
	PexelsAPIKey  string

	PixabayBaseURL string
	PexelsBaseURL  string
	client         *http.Client
}

func NewStockSearch(pixabayKey, pexelsKey string) *StockSearch {
	return &StockSearch{
		PixabayAPIKey:  pixabayKey,
		PexelsAPIKey:   pexelsKey,
		PixabayBaseURL: "https://pixabay.com",
		PexelsBaseURL:  "https://api.pexels.com",
		client:         newRetryableClient(30*time.Second, 2),
	}
}

// Search collects candidate clips for each keyword, dedupes them by URL and
// shuffles the result so repeated tasks with the same keywords don't always
// pick identical footage.
func (s *StockSearch) Search(ctx context.Context, taskID string, q StockQuery) ([]StockVideo, error) {
	var all []StockVideo
	var firstErr error
	succeeded := 0

	for _, keyword := range q.Keywords {
		if s.PixabayAPIKey != "" {
			hits, err := s.searchPixabay(ctx, keyword, q)
			if err != nil {
				log.Log(taskID, "pixabay search failed", "keyword", keyword, "err", err)
				metrics.ProviderCalls.WithLabelValues("stock", string(ProviderPixabay), "error").Inc()
				if firstErr == nil {
					firstErr = err
				}
			} else {
				metrics.ProviderCalls.WithLabelValues("stock", string(ProviderPixabay), "success").Inc()
				all = append(all, hits...)
				succeeded++
			}
		}
		if s.PexelsAPIKey != "" {
			hits, err := s.searchPexels(ctx, keyword, q)
			if err != nil {
				log.Log(taskID, "pexels search failed", "keyword", keyword, "err", err)
				metrics.ProviderCalls.WithLabelValues("stock", string(ProviderPexels), "error").Inc()
				if firstErr == nil {
					firstErr = err
				}
			} else {
				metrics.ProviderCalls.WithLabelValues("stock", string(ProviderPexels), "success").Inc()
				all = append(all, hits...)
				succeeded++
			}
		}
	}

	if succeeded == 0 && firstErr != nil {
		return nil, fmt.Errorf("all stock searches failed: %w", firstErr)
	}

	merged := DedupeStockVideos(all)
	// scene workers search concurrently, so shuffling goes through the
	// locked package-level source
	rand.Shuffle(len(merged), func(i, j int) {
		merged[i], merged[j] = merged[j], merged[i]
	})
	return merged, nil
}

// DedupeStockVideos keeps the first hit per URL, preserving order.
func DedupeStockVideos(in []StockVideo) []StockVideo {
	seen := make(map[string]bool, len(in))
	out := make([]StockVideo, 0, len(in))
	for _, v := range in {
		if v.URL == "" || seen[v.URL] {
			continue
		}
		seen[v.URL] = true
		out = append(out, v)
	}
	return out
}

// randomPageOrder visits a few result pages in shuffled order, again for
// variety between tasks.
func (s *StockSearch) randomPageOrder() []int {
	pages := make([]int, stockMaxPages)
	for i := range pages {
		pages[i] = i + 1
	}
	rand.Shuffle(len(pages), func(i, j int) { pages[i], pages[j] = pages[j], pages[i] })
	return pages
}

type pixabayResponse struct {
	Hits []struct {
		Duration int `json:"duration"`
		Videos   struct {
			Large struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"large"`
			Medium struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"medium"`
		} `json:"videos"`
	} `json:"hits"`
}

func (s *StockSearch) searchPixabay(ctx context.Context, keyword string, q StockQuery) ([]StockVideo, error) {
	var out []StockVideo
	for _, page := range s.randomPageOrder() {
		params := url.Values{
			"key":      {s.PixabayAPIKey},
			"q":        {keyword},
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(stockPageSize)},
		}
		var parsed pixabayResponse
		if err := s.getJSON(ctx, s.PixabayBaseURL+"/api/videos/?"+params.Encode(), nil, &parsed); err != nil {
			return nil, err
		}
		for _, hit := range parsed.Hits {
			variant := hit.Videos.Large
			if variant.URL == "" {
				variant = hit.Videos.Medium
			}
			if variant.URL == "" {
				continue
			}
			out = append(out, StockVideo{
				URL:      variant.URL,
				Width:    variant.Width,
				Height:   variant.Height,
				Duration: float64(hit.Duration),
				Source:   string(ProviderPixabay),
				Query:    keyword,
			})
			if q.PerKeywordCap > 0 && len(out) >= q.PerKeywordCap {
				return out, nil
			}
		}
		// short page means the provider ran out of results
		if len(parsed.Hits) < stockPageSize {
			break
		}
	}
	return out, nil
}

type pexelsResponse struct {
	Videos []struct {
		Width      int     `json:"width"`
		Height     int     `json:"height"`
		Duration   float64 `json:"duration"`
		VideoFiles []struct {
			Link   string `json:"link"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"video_files"`
	} `json:"videos"`
}

func (s *StockSearch) searchPexels(ctx context.Context, keyword string, q StockQuery) ([]StockVideo, error) {
	var out []StockVideo
	orientation := q.Orientation
	if orientation == "" {
		orientation = "portrait"
	}
	for _, page := range s.randomPageOrder() {
		params := url.Values{
			"query":       {keyword},
			"orientation": {orientation},
			"page":        {strconv.Itoa(page)},
			"per_page":    {strconv.Itoa(stockPageSize)},
		}
		headers := map[string]string{"Authorization": s.PexelsAPIKey}
		var parsed pexelsResponse
		if err := s.getJSON(ctx, s.PexelsBaseURL+"/videos/search?"+params.Encode(), headers, &parsed); err != nil {
			return nil, err
		}
		for _, video := range parsed.Videos {
			best := ""
			bestWidth := 0
			for _, file := range video.VideoFiles {
				if file.Link != "" && file.Width > bestWidth {
					best = file.Link
					bestWidth = file.Width
				}
			}
			if best == "" {
				continue
			}
			out = append(out, StockVideo{
				URL:      best,
				Width:    video.Width,
				Height:   video.Height,
				Duration: video.Duration,
				Source:   string(ProviderPexels),
				Query:    keyword,
			})
			if q.PerKeywordCap > 0 && len(out) >= q.PerKeywordCap {
				return out, nil
			}
		}
		if len(parsed.Videos) < stockPageSize {
			break
		}
	}
	return out, nil
}

func (s *StockSearch) getJSON(ctx context.Context, rawURL string, headers map[string]string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stock search bad status %d from %s", resp.StatusCode, log.RedactURL(rawURL))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}
