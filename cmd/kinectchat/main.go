package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/campuskinect/kinect-go/internal/api"
	"github.com/campuskinect/kinect-go/internal/config"
	"github.com/campuskinect/kinect-go/internal/keyring"
	"github.com/campuskinect/kinect-go/internal/socket"
	"github.com/campuskinect/kinect-go/internal/store"
	"github.com/campuskinect/kinect-go/internal/syncer"
)

func main() {
	log.SetFlags(log.LstdFlags)

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	kr, err := keyring.Open(cfg.KeyringPath, cfg.KeyringSecret)
	if err != nil {
		log.Fatalf("Failed to open keyring: %v", err)
	}
	defer kr.Close()

	client := api.NewClient(cfg.BaseURL, kr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			runLogin(ctx, client)
			return
		case "logout":
			if err := client.Logout(); err != nil {
				log.Fatalf("Logout failed: %v", err)
			}
			fmt.Println("Logged out.")
			return
		default:
			fmt.Printf("Unknown command %q. Usage: kinectchat [login|logout]\n", os.Args[1])
			os.Exit(2)
		}
	}

	if !client.Authenticated() {
		fmt.Println("No active session. Run `kinectchat login` first.")
		os.Exit(1)
	}

	runChat(ctx, cfg, client)
}

func runLogin(ctx context.Context, client *api.Client) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username or email: ")
	user, _ := reader.ReadString('\n')
	fmt.Print("Password: ")
	pass, _ := reader.ReadString('\n')

	session, err := client.Login(ctx, strings.TrimSpace(user), strings.TrimSpace(pass))
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			log.Fatalf("Login failed: %s", apiErr.UserMessage())
		}
		log.Fatalf("Login failed: %v", err)
	}
	fmt.Printf("Welcome, %s!\n", session.User.Name())
}

// session holds the interactive chat state.
type session struct {
	store  *store.Store
	syncer *syncer.Syncer
	userID string

	active  string // open conversation id
	printed int    // messages already rendered for the active conversation
}

func runChat(ctx context.Context, cfg *config.Config, client *api.Client) {
	st := store.New(client, client.CurrentUserID())
	sy := syncer.New(st, client.Authenticated)
	sy.SetIntervals(cfg.MessagePollInterval, cfg.ConversationPollInterval)
	go sy.Run(ctx)

	if cfg.SocketURL != "" {
		listener := socket.NewListener(cfg.SocketURL, func() (string, bool) {
			return client.AccessToken()
		}, func(ev socket.Event) {
			sy.Notify(ev.ConversationID)
		})
		go listener.Run(ctx)
	}

	if err := st.FetchConversations(ctx); err != nil {
		log.Printf("Could not load conversations: %v", err)
	}
	if err := st.FetchMessageRequests(ctx); err != nil {
		log.Printf("Could not load message requests: %v", err)
	}

	sess := &session{store: st, syncer: sy, userID: client.CurrentUserID()}
	sess.printConversations()
	fmt.Println(`Commands: /list, /requests, /open N, /accept N, /decline N, /close, /delete, /quit. Anything else sends a message.`)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.Updates():
			sess.renderNewMessages()
		case line, okch := <-lines:
			if !okch {
				return
			}
			if done := sess.handleLine(ctx, line); done {
				return
			}
		}
	}
}

func (s *session) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/list":
		s.printConversations()
	case line == "/requests":
		s.printRequests()
	case strings.HasPrefix(line, "/open "):
		s.openConversation(ctx, strings.TrimPrefix(line, "/open "))
	case line == "/close":
		s.syncer.ClearActive()
		s.active = ""
		s.printed = 0
		s.printConversations()
	case line == "/delete":
		if s.active == "" {
			fmt.Println("No conversation open.")
			return false
		}
		if err := s.store.DeleteConversation(ctx, s.active); err != nil {
			printError(err)
			return false
		}
		fmt.Println("Conversation deleted.")
		s.syncer.ClearActive()
		s.active = ""
		s.printed = 0
	case strings.HasPrefix(line, "/accept "):
		s.respond(ctx, strings.TrimPrefix(line, "/accept "), true)
	case strings.HasPrefix(line, "/decline "):
		s.respond(ctx, strings.TrimPrefix(line, "/decline "), false)
	default:
		if s.active == "" {
			fmt.Println("Open a conversation first (/open N).")
			return false
		}
		if _, err := s.store.SendMessage(ctx, s.active, line); err != nil {
			printError(err)
		}
	}
	return false
}

func (s *session) openConversation(ctx context.Context, arg string) {
	convs := s.store.Conversations()
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(convs) {
		fmt.Println("Usage: /open N (see /list)")
		return
	}
	conv := convs[n-1]

	s.active = conv.ID
	s.printed = 0
	if err := s.store.FetchMessages(ctx, conv.ID, 1); err != nil {
		printError(err)
	}
	fmt.Printf("--- Chat with %s ---\n", conv.OtherUser.Name())
	s.renderNewMessages()
	s.syncer.SetActive(conv.ID)

	// Everything incoming and unread is on screen now.
	var unreadIDs []string
	for _, m := range s.store.Messages(conv.ID) {
		if !m.IsRead && m.SenderID != s.userID {
			unreadIDs = append(unreadIDs, m.ID)
		}
	}
	s.store.MarkAsRead(ctx, conv.ID, unreadIDs)
}

func (s *session) respond(ctx context.Context, arg string, accept bool) {
	reqs := s.store.MessageRequests()
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(reqs) {
		fmt.Println("Usage: /accept N or /decline N (see /requests)")
		return
	}
	if err := s.store.RespondToRequest(ctx, reqs[n-1].ID, accept); err != nil {
		printError(err)
		return
	}
	if accept {
		fmt.Println("Request accepted.")
	} else {
		fmt.Println("Request declined.")
	}
}

func (s *session) renderNewMessages() {
	if s.active == "" {
		return
	}
	msgs := s.store.Messages(s.active)
	for ; s.printed < len(msgs); s.printed++ {
		m := msgs[s.printed]
		who := "them"
		if m.SenderID == s.userID {
			who = "you"
			if m.Pending() {
				who = "you (sending)"
			}
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Content)
	}
	if s.printed > len(msgs) {
		// A rollback removed messages; re-render from scratch next time.
		s.printed = len(msgs)
	}
}

func (s *session) printConversations() {
	convs := s.store.Conversations()
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	fmt.Println("Conversations:")
	for i, c := range convs {
		marker := " "
		if c.HasUnread() {
			marker = "*"
		}
		preview := c.LastMessage
		if len(preview) > 40 {
			preview = preview[:40] + "…"
		}
		fmt.Printf("%s %2d. %-20s %s\n", marker, i+1, c.OtherUser.Name(), preview)
	}
}

func (s *session) printRequests() {
	reqs := s.store.MessageRequests()
	if len(reqs) == 0 {
		fmt.Println("No pending message requests.")
		return
	}
	fmt.Println("Message requests:")
	for i, r := range reqs {
		fmt.Printf("  %2d. %s: %s\n", i+1, r.FromUser.Name(), r.Content)
	}
}

func printError(err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		fmt.Println(apiErr.UserMessage())
		return
	}
	fmt.Printf("Error: %v\n", err)
}
