package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"image-analysis-backend/internal/domain/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is not origin-bound; job ids are unguessable.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteWait = 10 * time.Second
	wsIdleWait  = 5 * time.Minute
)

// wsFrame is a server-to-client message on the job channel.
type wsFrame struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// wsAction is a client-to-server command.
type wsAction struct {
	Action string `json:"action"`
}

func frameFor(u model.JobUpdate) wsFrame {
	f := wsFrame{
		JobID:    u.JobID,
		Status:   string(u.Status),
		Progress: u.Progress,
		Message:  u.Message,
		Error:    u.Error,
	}
	switch u.Status {
	case model.JobStatusCompleted:
		f.Type = "completed"
	case model.JobStatusFailed, model.JobStatusCancelled:
		f.Type = "failed"
	case model.JobStatusProcessing:
		if u.Progress == 0 {
			f.Type = "started"
		} else {
			f.Type = "update"
		}
	default:
		f.Type = "update"
	}
	return f
}

// handleJobWS upgrades to a per-job push channel. Every registry transition
// becomes a frame; the client may send ping, get_status, and cancel actions.
// The channel closes after the terminal frame.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.jobUC.Get(jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Updates are buffered; when a slow client falls behind, intermediate
	// progress frames are dropped, terminal ones are not.
	updates := make(chan model.JobUpdate, 16)
	sub := s.registry.Subscribe(jobID, func(u model.JobUpdate) {
		if u.Status.Terminal() {
			// Make room. The dispatcher is the only writer, so evicting one
			// stale frame guarantees the send below succeeds.
			for {
				select {
				case updates <- u:
					return
				default:
					select {
					case <-updates:
					default:
					}
				}
			}
		}
		select {
		case updates <- u:
		default:
		}
	})
	defer sub.Cancel()

	done := make(chan struct{})
	defer close(done)

	actions := make(chan wsAction)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var a wsAction
			if err := conn.ReadJSON(&a); err != nil {
				return
			}
			select {
			case actions <- a:
			case <-done:
				return
			}
		}
	}()

	write := func(f wsFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f)
	}

	// Current state first so late subscribers don't wait for the next
	// transition. Snapshot again now that the subscription exists: a
	// transition landing between the pre-upgrade fetch and Subscribe would
	// otherwise be in neither the initial frame nor the channel.
	if job, err = s.jobUC.Get(jobID); err != nil {
		write(wsFrame{Type: "error", JobID: jobID, Error: err.Error()})
		return
	}
	if err := write(frameFor(job.Update())); err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}

	idle := time.NewTimer(wsIdleWait)
	defer idle.Stop()
	for {
		select {
		case u := <-updates:
			if err := write(frameFor(u)); err != nil {
				return
			}
			if u.Status.Terminal() {
				return
			}
			idle.Reset(wsIdleWait)

		case a := <-actions:
			switch a.Action {
			case "ping":
				if err := write(wsFrame{Type: "pong", JobID: jobID}); err != nil {
					return
				}
			case "get_status":
				job, err := s.jobUC.Get(jobID)
				if err != nil {
					write(wsFrame{Type: "error", JobID: jobID, Error: err.Error()})
					return
				}
				if err := write(frameFor(job.Update())); err != nil {
					return
				}
			case "cancel":
				if err := s.jobUC.Cancel(jobID); err != nil {
					if wErr := write(wsFrame{Type: "error", JobID: jobID, Error: err.Error()}); wErr != nil {
						return
					}
				}
				// The cancellation frame arrives through the subscription.
			default:
				if err := write(wsFrame{Type: "error", JobID: jobID, Error: "unknown action"}); err != nil {
					return
				}
			}
			idle.Reset(wsIdleWait)

		case <-readerDone:
			return
		case <-idle.C:
			return
		}
	}
}
