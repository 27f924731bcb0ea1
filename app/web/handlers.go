package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/guessnum/app/store"
)

// attempts bounds accepted from clients
const (
	minAttempts = 1
	maxAttempts = 1000
)

const insertResultQuery = `INSERT INTO GameResults (GameName, Attempts, Won, PlayedAt) VALUES (?, ?, ?, ?)`

const statsQuery = `SELECT COUNT(*), AVG(CAST(Attempts AS FLOAT)), MIN(Attempts)
	FROM GameResults
	WHERE GameName = ? AND Won = 1`

// validation messages returned with 400
const (
	msgContentType     = "Content-Type must be application/json"
	msgInvalidJSON     = "Invalid JSON payload"
	msgNoData          = "No data provided"
	msgInvalidAttempts = "Invalid attempts value"
	msgInvalidWon      = "Invalid won value"
	msgAttemptsRange   = "Attempts out of valid range"
)

// rejected cross-origin submission, returned with 403
const msgCrossOrigin = "Cross-origin request rejected"

// GameResult is a single played game submitted by the client
type GameResult struct {
	Attempts int
	Won      bool
}

// GameStats is aggregated statistics for won games
type GameStats struct {
	TotalGames  int64    `json:"total_games"`
	AvgAttempts *float64 `json:"avg_attempts"`
	BestScore   *int64   `json:"best_score"`
}

// saveResultResponse is the json response for successful result submission
type saveResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// statsResponse is the json response for /api/game/stats
type statsResponse struct {
	Success bool      `json:"success"`
	Stats   GameStats `json:"stats"`
}

// validationError is a client input problem, its message goes back to the client as is
type validationError string

func (e validationError) Error() string { return string(e) }

// handleIndex renders the game page
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, pageData{
		GameName:    s.gameName,
		MinNumber:   s.minNumber,
		MaxNumber:   s.maxNumber,
		Version:     s.version,
		CurrentYear: s.now().Year(),
	})
}

// handleSaveResult validates submitted game result and records it
func (s *Server) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r.Header.Get("Content-Type")) {
		s.writeJSONError(w, http.StatusBadRequest, msgContentType)
		return
	}

	result, err := decodeGameResult(r.Body)
	if err != nil {
		var verr validationError
		if !errors.As(err, &verr) {
			log.Printf("[WARN] failed to read request body: %v", err)
			verr = msgInvalidJSON
		}
		s.writeJSONError(w, http.StatusBadRequest, string(verr))
		return
	}

	// the write must not be cut short by a client disconnect
	ctx := context.WithoutCancel(r.Context())
	playedAt := s.now().UTC()
	res := s.store.Execute(ctx, insertResultQuery, []any{s.gameName, result.Attempts, result.Won, playedAt}, false)
	if !res.OK {
		log.Printf("[ERROR] failed to save game result %+v: %s", result, res.Err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to save result")
		return
	}

	log.Printf("[DEBUG] game result saved, attempts=%d, won=%v", result.Attempts, result.Won)
	s.writeJSON(w, http.StatusCreated, saveResultResponse{Success: true, Message: "Game result saved"})
}

// handleStats returns aggregated stats for won games. Stats are not critical, so any
// database failure is reported as empty stats with 200.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	res := s.store.Execute(context.WithoutCancel(r.Context()), statsQuery, []any{s.gameName}, true)
	switch {
	case !res.OK:
		log.Printf("[WARN] stats unavailable, responding with empty stats: %s", res.Err)
		s.writeJSON(w, http.StatusOK, statsResponse{Success: true})
		return
	case len(res.Rows) == 0 || len(res.Rows[0]) < 3:
		log.Printf("[WARN] stats query returned no rows, responding with empty stats")
		s.writeJSON(w, http.StatusOK, statsResponse{Success: true})
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: makeGameStats(res.Rows[0])})
}

// makeGameStats converts aggregate row (count, avg, min) into GameStats, NULLs stay nil
func makeGameStats(row []any) GameStats {
	var stats GameStats
	if total, ok := store.AsInt64(row[0]); ok {
		stats.TotalGames = total
	}
	if avg, ok := store.AsFloat64(row[1]); ok && avg != 0 {
		stats.AvgAttempts = &avg
	}
	if best, ok := store.AsInt64(row[2]); ok {
		stats.BestScore = &best
	}
	return stats
}

// decodeGameResult parses and validates the result payload. Client problems are returned as validationError.
func decodeGameResult(body io.Reader) (GameResult, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return GameResult{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return GameResult{}, validationError(msgInvalidJSON)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return GameResult{}, validationError(msgInvalidJSON) // trailing data after the document
	}
	if data == nil {
		return GameResult{}, validationError(msgNoData)
	}
	fields, ok := data.(map[string]any)
	if !ok {
		return GameResult{}, validationError(msgInvalidJSON)
	}

	num, ok := fields["attempts"].(json.Number)
	if !ok || strings.ContainsAny(num.String(), ".eE") {
		return GameResult{}, validationError(msgInvalidAttempts)
	}
	won, ok := fields["won"].(bool)
	if !ok {
		return GameResult{}, validationError(msgInvalidWon)
	}

	attempts, err := num.Int64()
	if err != nil || attempts < minAttempts || attempts > maxAttempts {
		return GameResult{}, validationError(msgAttemptsRange) // int64 overflow is out of range as well
	}

	return GameResult{Attempts: int(attempts), Won: won}, nil
}
