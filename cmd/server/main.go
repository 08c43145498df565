package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chathub/internal/api"
	"chathub/internal/auth"
	"chathub/internal/chat"
	"chathub/internal/config"
	"chathub/internal/db"
	"chathub/internal/middleware"
	"chathub/internal/repository"
	"chathub/internal/tasks"
)

func main() {

	cfg := config.Load()

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
		return
	}
	defer pool.Close()

	userRepo := repository.NewUserRepo(pool)
	chatRepo := repository.NewChatRepo(pool)
	messageRepo := repository.NewMessagesRepo(pool)
	refreshRepo := repository.NewRefreshTokenRepo(pool)

	tokens := auth.NewService(cfg.AuthKey)

	registry := chat.NewRegistry()
	cache := chat.NewMembershipCache(chatRepo)
	router := chat.NewRouter(registry, cache, messageRepo, cfg.WriteTimeout)
	lifecycle := chat.NewLifecycle(registry, router, tokens, chatRepo, cfg.AuthTimeout)

	tasks.NewTokenCleaner(refreshRepo).Start()

	authed := middleware.Authenticate(tokens, userRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signup", api.SignupHandler(tokens, userRepo, refreshRepo))
	mux.HandleFunc("POST /api/auth/login", api.LoginHandler(tokens, userRepo, refreshRepo))
	mux.HandleFunc("POST /api/auth/refresh", api.RefreshHandler(tokens, refreshRepo))
	mux.HandleFunc("POST /api/auth/logout", api.LogoutHandler(refreshRepo))

	mux.Handle("POST /api/chats", authed(api.CreateChatHandler(chatRepo)))
	mux.Handle("GET /api/chats/my", authed(api.MyChatsHandler(chatRepo)))
	mux.Handle("GET /api/chats/{chatID}", authed(api.GetChatHandler(chatRepo)))
	mux.Handle("POST /api/chats/{chatID}/members/{username}", authed(api.AddMemberHandler(chatRepo, userRepo, cache)))
	mux.Handle("DELETE /api/chats/{chatID}/members/{username}", authed(api.RemoveMemberHandler(chatRepo, userRepo, cache)))
	mux.Handle("GET /api/chats/{chatID}/messages", authed(api.HistoryHandler(messageRepo, cache)))

	mux.HandleFunc("/ws", api.ServeWS(lifecycle))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("Server starting on :%s...\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	registry.CloseAll()

	fmt.Println("Graceful shutdown complete. Goodnight!")
}
