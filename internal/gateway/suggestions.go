package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/allocation"
)

// confidenceFor buckets a suggestion's score into spec.md §6's
// HIGH/MEDIUM/LOW response band.
func confidenceFor(score float64) string {
	switch {
	case score >= 80:
		return "HIGH"
	case score >= 50:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func impactLabel(sign int) string {
	switch {
	case sign > 0:
		return "POSITIVE"
	case sign < 0:
		return "NEGATIVE"
	default:
		return "NEUTRAL"
	}
}

func (g *Gateway) suggestBerths(c *gin.Context) {
	vesselID, err := strconv.ParseInt(c.Param("vesselId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vesselId"})
		return
	}

	var preferredEta *time.Time
	if raw := c.Query("preferredEta"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "preferredEta must be RFC-3339"})
			return
		}
		preferredEta = &t
	}

	topN := 5
	if raw := c.Query("topN"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid topN"})
			return
		}
		topN = n
	}

	var suggestions []suggestionDTO
	execErr := g.breakers.Execute(c.Request.Context(), "suggest", func() error {
		out, suggestErr := g.alloc.Suggest(c.Request.Context(), vesselID, preferredEta, topN)
		if suggestErr != nil {
			return suggestErr
		}
		suggestions = g.renderSuggestions(out)
		return nil
	})
	if execErr != nil {
		g.writeAllocationError(c, execErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

type suggestionDTO struct {
	Rank                 int            `json:"rank"`
	BerthID              int64          `json:"berthId"`
	BerthName            string         `json:"berthName"`
	TerminalName         string         `json:"terminalName"`
	Score                float64        `json:"score"`
	Confidence           string         `json:"confidence"`
	ProposedEta          time.Time      `json:"proposedEta"`
	ProposedEtd          time.Time      `json:"proposedEtd"`
	EstimatedWaitMinutes int            `json:"estimatedWaitMinutes"`
	Reasoning            []reasoningDTO `json:"reasoning"`
	Violations           []string       `json:"violations"`
}

type reasoningDTO struct {
	Factor  string  `json:"factor"`
	Impact  string  `json:"impact"`
	Weight  float64 `json:"weight"`
	Message string  `json:"message"`
}

func (g *Gateway) renderSuggestions(in []allocation.Suggestion) []suggestionDTO {
	out := make([]suggestionDTO, 0, len(in))
	for _, s := range in {
		berth, _ := g.store.GetBerth(s.BerthID)
		terminalName := strconv.FormatInt(berth.TerminalID, 10)
		for _, t := range g.store.ListTerminals() {
			if t.TerminalID == berth.TerminalID {
				terminalName = t.Name
				break
			}
		}

		reasoning := make([]reasoningDTO, 0, len(s.ReasoningFactors))
		for _, f := range s.ReasoningFactors {
			reasoning = append(reasoning, reasoningDTO{
				Factor: f.Label, Impact: impactLabel(f.ImpactSign), Weight: f.Weight, Message: f.Message,
			})
		}
		violations := make([]string, 0, len(s.ViolationsNonCritical))
		for _, v := range s.ViolationsNonCritical {
			violations = append(violations, v.Message)
		}

		out = append(out, suggestionDTO{
			Rank: s.Rank, BerthID: s.BerthID, BerthName: berth.Name, TerminalName: terminalName,
			Score: s.Score, Confidence: confidenceFor(s.Score), ProposedEta: s.ProposedEta, ProposedEtd: s.ProposedEtd,
			EstimatedWaitMinutes: s.WaitingMinutes, Reasoning: reasoning, Violations: violations,
		})
	}
	return out
}
