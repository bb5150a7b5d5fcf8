package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List committed market events",
	RunE:  runEventsList,
}

var (
	eventsAfter  uint64
	eventsLimit  int
	eventsFollow bool
)

func init() {
	eventsCmd.Flags().Uint64Var(&eventsAfter, "after", 0, "Only events with a sequence number above this")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum number of events to list")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Stream events as they are committed")
}

func runEventsList(cmd *cobra.Command, args []string) error {
	if eventsFollow {
		return followEvents(eventsAfter)
	}

	resp, err := apiGet(fmt.Sprintf("/events?after=%d&limit=%d", eventsAfter, eventsLimit))
	if err != nil {
		return err
	}
	var events []models.Event
	if err := json.Unmarshal(resp, &events); err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Seq, ev.Timestamp.Local().Format(timeLayout), ev.Type, eventDetail(ev))
	}
	return w.Flush()
}

// followEvents prints events from the stream endpoint until interrupted.
func followEvents(after uint64) error {
	wsURL := strings.Replace(apiAddr, "http", "ws", 1) + "/events/stream?after=" + strconv.FormatUint(after, 10)

	header := http.Header{}
	req := &http.Request{Header: header}
	setIdentity(req)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	interrupted := make(chan struct{})
	go func() {
		<-sigCh
		close(interrupted)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
				return fmt.Errorf("stream fell behind, resume with --after %d", after)
			}
			select {
			case <-interrupted:
				return nil
			default:
				return err
			}
		}
		after = ev.Seq
		fmt.Printf("%d\t%s\t%s\t%s\n", ev.Seq, ev.Timestamp.Local().Format(timeLayout), ev.Type, eventDetail(ev))
	}
}

func eventDetail(ev models.Event) string {
	var parts []string
	if ev.TaskID != 0 {
		parts = append(parts, fmt.Sprintf("task=%d", ev.TaskID))
	}
	if ev.ServiceID != 0 {
		parts = append(parts, fmt.Sprintf("service=%d", ev.ServiceID))
	}
	if ev.Principal != "" {
		parts = append(parts, "principal="+ev.Principal)
	}
	if ev.Counterpart != "" {
		parts = append(parts, "counterpart="+ev.Counterpart)
	}
	if ev.Amount != "" {
		parts = append(parts, "amount="+ev.Amount)
	}
	if ev.ResultHash != "" {
		parts = append(parts, "result="+ev.ResultHash)
	}
	return strings.Join(parts, " ")
}
