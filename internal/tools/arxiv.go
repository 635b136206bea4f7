package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PaperAnalyzer produces a structured analysis (summary, key results,
// methodology) from paper text or a local PDF path.
type PaperAnalyzer interface {
	Analyze(ctx context.Context, content string) (string, error)
}

const (
	arxivEndpoint           = "http://export.arxiv.org/api/query"
	semanticScholarEndpoint = "https://api.semanticscholar.org/graph/v1/paper/search"
	defaultMaxResults       = 10
	maxPDFBytes             = 64 << 20
)

// Paper is one normalized search hit.
type Paper struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Abstract  string   `json:"abstract"`
	URL       string   `json:"url"`
	PDFURL    string   `json:"pdf_url,omitempty"`
	Published string   `json:"published,omitempty"`
	Citations int      `json:"citations,omitempty"`
}

// ResearchTools bundles the paper search and analysis adapters.
type ResearchTools struct {
	client *http.Client
	gemini PaperAnalyzer
	claude PaperAnalyzer
}

// NewResearchTools creates the research toolset. Either analyzer may
// be nil; the corresponding tool then reports unavailability in its
// payload.
func NewResearchTools(client *http.Client, gemini, claude PaperAnalyzer) *ResearchTools {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ResearchTools{client: client, gemini: gemini, claude: claude}
}

// RegisterAll registers every research tool.
func (rt *ResearchTools) RegisterAll(r *Registry) {
	r.MustRegister(&Tool{
		Name:        "search_arxiv",
		Description: "arXiv 논문 검색. 키워드로 논문 목록 반환 (제목, 저자, abstract). NOT for: 일상 대화, 이메일, 일정.",
		Category:    CategoryResearch,
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query":       {Type: "string", Description: "Search query (e.g. 'MoS2 band structure DFT')"},
				"max_results": {Type: "integer", Description: "Maximum number of results to return (default: 10)"},
			},
		},
		Execute: rt.searchArxiv,
	})

	r.MustRegister(&Tool{
		Name:        "search_semantic_scholar",
		Description: "Semantic Scholar 논문 검색. 인용 데이터 포함. NOT for: 일상 대화, 이메일, 일정.",
		Category:    CategoryResearch,
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query":       {Type: "string", Description: "Search query (e.g. 'Janus TMDC heterostructure')"},
				"max_results": {Type: "integer", Description: "Maximum number of results to return (default: 10)"},
			},
		},
		Execute: rt.searchSemanticScholar,
	})

	r.MustRegister(&Tool{
		Name:        "download_paper_pdf",
		Description: "논문 PDF 다운로드. URL → 로컬 저장.",
		Category:    CategoryResearch,
		Schema: Schema{
			Required: []string{"pdf_url", "save_path"},
			Properties: map[string]Property{
				"pdf_url":   {Type: "string", Description: "URL of the PDF to download"},
				"save_path": {Type: "string", Description: "Local file path to save the PDF to"},
			},
		},
		Execute: rt.downloadPDF,
	})

	r.MustRegister(&Tool{
		Name:        "analyze_paper_gemini",
		Description: "Gemini로 논문 분석. 텍스트/PDF → 요약, 핵심 결과, 방법론.",
		Category:    CategoryResearch,
		Schema: Schema{
			Required: []string{"content"},
			Properties: map[string]Property{
				"content": {Type: "string", Description: "Paper text content or path to a PDF file"},
			},
		},
		Execute: rt.analyzeWith("gemini"),
	})

	r.MustRegister(&Tool{
		Name:        "analyze_paper_claude",
		Description: "Claude로 논문 분석. 텍스트/PDF → 요약, 핵심 결과, 방법론.",
		Category:    CategoryResearch,
		Schema: Schema{
			Required: []string{"content"},
			Properties: map[string]Property{
				"content": {Type: "string", Description: "Paper text content or path to a PDF file"},
			},
		},
		Execute: rt.analyzeWith("claude"),
	})
}

// =============================================================================
// ARXIV
// =============================================================================

// atomFeed mirrors the subset of the arXiv Atom response we use.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	ID        string       `xml:"id"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (rt *ResearchTools) searchArxiv(ctx context.Context, args map[string]any) (string, error) {
	query := StringArg(args, "query")
	max := IntArg(args, "max_results", defaultMaxResults)

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("max_results", fmt.Sprint(max))
	params.Set("sortBy", "relevance")

	body, err := rt.get(ctx, arxivEndpoint+"?"+params.Encode())
	if err != nil {
		return errorJSON("arxiv request failed: " + err.Error()), nil
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return errorJSON("arxiv response parse failed: " + err.Error()), nil
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := Paper{
			Title:     strings.Join(strings.Fields(e.Title), " "),
			Abstract:  strings.TrimSpace(e.Summary),
			URL:       e.ID,
			Published: e.Published,
		}
		for _, a := range e.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		for _, l := range e.Links {
			if l.Title == "pdf" || l.Type == "application/pdf" {
				p.PDFURL = l.Href
			}
		}
		papers = append(papers, p)
	}
	return okJSON(map[string]any{"papers": papers, "count": len(papers)}), nil
}

// =============================================================================
// SEMANTIC SCHOLAR
// =============================================================================

type s2Response struct {
	Data []struct {
		Title         string `json:"title"`
		Abstract      string `json:"abstract"`
		URL           string `json:"url"`
		CitationCount int    `json:"citationCount"`
		Authors       []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"data"`
}

func (rt *ResearchTools) searchSemanticScholar(ctx context.Context, args map[string]any) (string, error) {
	query := StringArg(args, "query")
	max := IntArg(args, "max_results", defaultMaxResults)

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", fmt.Sprint(max))
	params.Set("fields", "title,abstract,url,citationCount,authors")

	body, err := rt.get(ctx, semanticScholarEndpoint+"?"+params.Encode())
	if err != nil {
		return errorJSON("semantic scholar request failed: " + err.Error()), nil
	}

	var resp s2Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return errorJSON("semantic scholar response parse failed: " + err.Error()), nil
	}

	papers := make([]Paper, 0, len(resp.Data))
	for _, d := range resp.Data {
		p := Paper{
			Title:     d.Title,
			Abstract:  d.Abstract,
			URL:       d.URL,
			Citations: d.CitationCount,
		}
		for _, a := range d.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		papers = append(papers, p)
	}
	return okJSON(map[string]any{"papers": papers, "count": len(papers)}), nil
}

// =============================================================================
// DOWNLOAD & ANALYSIS
// =============================================================================

func (rt *ResearchTools) downloadPDF(ctx context.Context, args map[string]any) (string, error) {
	pdfURL := StringArg(args, "pdf_url")
	savePath := StringArg(args, "save_path")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return errorJSON("invalid pdf url: " + err.Error()), nil
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return errorJSON("download failed: " + err.Error()), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorJSON(fmt.Sprintf("download failed: HTTP %d", resp.StatusCode)), nil
	}

	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return errorJSON("cannot create target directory: " + err.Error()), nil
	}
	f, err := os.Create(savePath)
	if err != nil {
		return errorJSON("cannot create file: " + err.Error()), nil
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		os.Remove(savePath)
		return errorJSON("write failed: " + err.Error()), nil
	}
	return okJSON(map[string]any{"success": true, "save_path": savePath, "bytes": n}), nil
}

func (rt *ResearchTools) analyzeWith(backend string) ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		analyzer := rt.gemini
		if backend == "claude" {
			analyzer = rt.claude
		}
		if analyzer == nil {
			return errorJSON(backend + " analyzer unavailable"), nil
		}

		content := StringArg(args, "content")
		// A path argument means a local PDF; hand the text through as-is
		// otherwise.
		if info, err := os.Stat(content); err == nil && !info.IsDir() {
			data, err := os.ReadFile(content)
			if err != nil {
				return errorJSON("cannot read file: " + err.Error()), nil
			}
			content = string(data)
		}

		analysis, err := analyzer.Analyze(ctx, content)
		if err != nil {
			return errorJSON("analysis failed: " + err.Error()), nil
		}
		return okJSON(map[string]any{"analysis": analysis}), nil
	}
}

func (rt *ResearchTools) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
