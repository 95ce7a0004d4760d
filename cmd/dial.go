package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
)

const (
	dialChunkSize  = 3200 // 100ms of 16kHz mono PCM16
	dialChunkDelay = 100 * time.Millisecond
	wavHeaderSize  = 44
)

type dialOptions struct {
	addr  string
	text  string
	audio string
	wait  time.Duration
}

func newDialCmd() *cobra.Command {
	var opts dialOptions

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Open a session against a running server and print what it sends",
		Long: "Creates a session, attaches the control and chat channels, sends a text " +
			"and optionally streams a PCM16 or WAV file on the voice channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "localhost:8080", "server host:port")
	cmd.Flags().StringVar(&opts.text, "text", "hello", "text sent on the chat channel")
	cmd.Flags().StringVar(&opts.audio, "audio", "", "PCM16 or WAV file streamed on the voice channel")
	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Second, "how long to keep printing after the last send")
	return cmd
}

func runDial(out io.Writer, opts dialOptions) error {
	ensured, err := ensureSession(opts.addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s\n", ensured.SessionID)

	var printMu sync.Mutex
	show := func(ch entities.ChannelNo, msg domain.Message) {
		printMu.Lock()
		defer printMu.Unlock()
		content := string(msg.Content)
		if len(content) > 120 {
			content = content[:120] + "..."
		}
		fmt.Fprintf(out, "[%3d] %-14s %s\n", ch, msg.Kind, content)
	}

	channels := []entities.ChannelNo{entities.ChannelControl, entities.ChannelChat}
	if opts.audio != "" {
		channels = append(channels, entities.ChannelVoice)
	}

	conns := make(map[entities.ChannelNo]*websocket.Conn, len(channels))
	defer func() {
		for _, c := range conns {
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.Close()
		}
	}()

	for _, ch := range channels {
		c, err := dialChannel(opts.addr, ensured.SessionID, ensured.Token, ch)
		if err != nil {
			return err
		}
		conns[ch] = c
		go readChannel(c, ch, show)
	}

	status, _ := domain.NewObjectMessage(domain.KindOperations, entities.ChannelControl, domain.Operation{Op: domain.OpStatus})
	if err := conns[entities.ChannelControl].WriteJSON(status); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	if err := conns[entities.ChannelChat].WriteJSON(domain.NewTextMessage(domain.KindInputText, entities.ChannelChat, opts.text)); err != nil {
		return fmt.Errorf("send text: %w", err)
	}

	if opts.audio != "" {
		if err := streamAudio(conns[entities.ChannelVoice], opts.audio); err != nil {
			return err
		}
	}

	time.Sleep(opts.wait)
	return nil
}

type ensureResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

func ensureSession(addr string) (ensureResponse, error) {
	var out ensureResponse
	resp, err := http.Post("http://"+addr+"/api/v1/sessions", "application/json", bytes.NewBufferString("{}"))
	if err != nil {
		return out, fmt.Errorf("ensure session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("ensure session: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("ensure session: %w", err)
	}
	return out, nil
}

func dialChannel(addr, sessionID, token string, ch entities.ChannelNo) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("channel", strconv.Itoa(int(ch)))
	if token != "" {
		q.Set("token", token)
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws", RawQuery: q.Encode()}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel %d: %w", ch, err)
	}
	return c, nil
}

func readChannel(c *websocket.Conn, ch entities.ChannelNo, show func(entities.ChannelNo, domain.Message)) {
	for {
		var msg domain.Message
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		show(ch, msg)
	}
}

func streamAudio(c *websocket.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	if len(data) > wavHeaderSize && bytes.HasPrefix(data, []byte("RIFF")) {
		data = data[wavHeaderSize:]
	}

	for off := 0; off < len(data); off += dialChunkSize  {
		end := min(off+dialChunkSize, len(data))
		if err := c.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		time.Sleep(dialChunkDelay)
	}
	return nil
}
