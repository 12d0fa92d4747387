// Package main - операторская утилита движка прогрессии.
//
// progressctl применяет миграции, создаёт пользователей, записывает
// привычки, настраивает цели и показывает прогресс. Хранилище и блокировка
// выбираются переменными окружения (ENGINE_STORE, ENGINE_LOCK) или флагами.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openFromEnv).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
