package httpapi

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hperssn/focuswatch/internal/domain"
)

var sessionCSVHeader = []string{
	"Date",
	"Start Time",
	"End Time",
	"Total Duration (min)",
	"Focus Duration (min)",
	"Distraction Duration (min)",
}

func (s *Server) exportData(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	if format != "csv" {
		respondError(w, fmt.Sprintf("unsupported export format %q", format), http.StatusBadRequest)
		return
	}

	user := currentUser(r)
	sessions, err := s.Accounts.Sessions(r.Context(), user.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", user.Username+"_focus_data.csv"))
	w.WriteHeader(http.StatusOK)

	if err := writeSessionsCSV(w, sessions); err != nil {
		// headers are gone, the client sees a truncated file
		log.Printf("export csv for %s: %v", user.Username, err)
	}
}

// writeSessionsCSV writes one row per session in the local time zone.
func writeSessionsCSV(out io.Writer, sessions []domain.Session) error {
	cw := csv.NewWriter(out)

	if err := cw.Write(sessionCSVHeader); err != nil {
		return err
	}

	for _, s := range sessions {
		start := s.StartTime.Local()
		end := "Active"
		if s.EndTime != nil {
			end = s.EndTime.Local().Format(time.TimeOnly)
		}

		row := []string{
			start.Format(time.DateOnly),
			start.Format(time.TimeOnly),
			end,
			minutes(s.TotalDuration),
			minutes(s.FocusDuration),
			minutes(s.DistractionDuration),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func minutes(d time.Duration) string {
	return strconv.FormatFloat(d.Minutes(), 'f', 2, 64)
}
