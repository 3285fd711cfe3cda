package record

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Score is the one concrete row shape shared by every osu! ruleset. Per
// §9 of the spec, the source system's HighScore/HighScoreTaiko/
// HighScoreMania inheritance tree collapses to this single struct plus
// the Mode discriminator; ruleset-specific behavior lives entirely in
// each mode's Descriptor, not in a parallel Go type.
type Score struct {
	Mode       string
	ScoreID    int64
	UserID     int64
	BeatmapID  int64
	TotalScore int64
	Rank       string
	Mods       int64
	Hidden     bool
}

// Cursor implements Record.
func (s Score) Cursor() int64 { return s.ScoreID }

// ShouldIndex implements Record. Hidden (soft-deleted) scores are
// dropped from the index rather than upserted.
func (s Score) ShouldIndex() bool { return !s.Hidden }

// DocumentID implements Record.
func (s Score) DocumentID() string { return strconv.FormatInt(s.ScoreID, 10) }

const scoreSelectClause = "score_id, user_id, beatmap_id, total_score, `rank`, mods, hidden"

func decodeScore(mode string) func(*sql.Rows) (Record, error) {
	return func(rows *sql.Rows) (Record, error) {
		var s Score
		s.Mode = mode
		if err := rows.Scan(&s.ScoreID, &s.UserID, &s.BeatmapID, &s.TotalScore, &s.Rank, &s.Mods, &s.Hidden); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func decodeScoreByID(mode, table string) func(context.Context, *sql.DB, int64) (Record, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE score_id = ?", scoreSelectClause, table)
	return func(ctx context.Context, db *sql.DB, id int64) (Record, bool, error) {
		var s Score
		s.Mode = mode
		row := db.QueryRowContext(ctx, query, id)
		err := row.Scan(&s.ScoreID, &s.UserID, &s.BeatmapID, &s.TotalScore, &s.Rank, &s.Mods, &s.Hidden)
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return s, true, nil
	}
}

func registerRuleset(mode, table string) {
	Register(Descriptor{
		Mode:          mode,
		CursorColumn:  "score_id",
		SelectClause:  scoreSelectClause,
		Table:         table,
		MaxExpression: "MAX(score_id)",
		ExtraWhere:    "",
		Decode:        decodeScore(mode),
		DecodeByID:    decodeScoreByID(mode, table),
	})
}

func init() {
	registerRuleset("osu", "scores_high")
	registerRuleset("taiko", "scores_high_taiko")
	registerRuleset("fruits", "scores_high_fruits")
	registerRuleset("mania", "scores_high_mania")
}
