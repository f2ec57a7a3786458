package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-attempt/internal/model"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

func (a *app) monitor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: attempt monitor <exam-id>")
	}
	examID := fs.Arg(0)

	sess, err := a.currentSession()
	if err != nil {
		return err
	}
	if sess.User.Role != model.RoleTeacher && sess.User.Role != model.RoleSuperAdmin {
		return errors.New("only teacher accounts can monitor exams")
	}

	target, err := monitorURL(a.cfg.APIBaseURL, examID, sess.Token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.HTTPTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect monitor: %w", err)
	}
	defer conn.Close()

	// Server keepalive pings count as activity on a quiet exam.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(ws.ReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Unblock the read loop on cancellation.
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Printf("Monitoring exam %s. Press Ctrl+C to stop.\n", examID)
	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("monitor stream: %w", err)
		}
		if err := printMonitorFrame(os.Stdout, raw); err != nil {
			a.log.Warn().Err(err).Msg("unreadable monitor frame")
		}
	}
}

// printMonitorFrame renders one server message, dispatching on its event.
func printMonitorFrame(w io.Writer, raw []byte) error {
	var head struct {
		Event ws.Event `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return err
	}

	switch head.Event {
	case ws.EventSnapshot:
		var snap ws.MonitorSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return err
		}
		printSnapshot(w, snap)
	case ws.EventError:
		var e ws.ErrorResponse
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		fmt.Fprintf(w, "server error: %s\n", e.Error)
	case ws.EventPong:
	default:
		var ev ws.MonitorEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		printMonitorEvent(w, ev)
	}
	return nil
}

func printSnapshot(w io.Writer, snap ws.MonitorSnapshot) {
	fmt.Fprintf(w, "%s: %d attempt(s), %d question(s)\n", snap.Title, len(snap.Attempts), snap.Total)
	for _, p := range snap.Attempts {
		line := fmt.Sprintf("  %-20s %-11s %d/%d answered  warnings %d",
			p.StudentName, p.Status, p.Answered, snap.Total, p.TabWarnings)
		if p.Score != nil {
			line += fmt.Sprintf("  score %g", *p.Score)
		}
		fmt.Fprintln(w, line)
	}
}

func printMonitorEvent(w io.Writer, ev ws.MonitorEvent) {
	who := ev.StudentName
	if who == "" {
		who = ev.StudentID
	}
	line := fmt.Sprintf("%s  %-9s %-20s %d/%d answered  warnings %d",
		ev.At.Local().Format("15:04:05"), ev.Event, who, ev.Answered, ev.Total, ev.TabWarnings)
	if ev.RemainingSec > 0 {
		line += fmt.Sprintf("  %s left", (time.Duration(ev.RemainingSec) * time.Second).String())
	}
	if ev.Auto {
		line += "  (auto)"
	}
	fmt.Fprintln(w, line)
}

// monitorURL derives the teacher WebSocket endpoint from the REST base URL.
func monitorURL(apiBase, examID, token string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported API scheme %q", u.Scheme)
	}
	prefix := strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api/v1")
	u.Path = prefix + "/ws/v1/teacher/exams/" + examID + "/monitor"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
