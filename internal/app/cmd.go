package app

import (
	"errors"
	"fmt"
)

// Command はrecallのサブコマンド。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。エンリッチメントはREDIS_URLの有無で
	// Redisキューへの投入かプロセス内処理かが決まる。
	CommandServe Command = "serve"
	// CommandWorker はRedisキューからエンリッチメントタスクを取り出して処理する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中サーバーの/healthzを叩く。distrolessのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

// ErrUnknownCommand は未対応のサブコマンドが指定された場合のエラー。
var ErrUnknownCommand = errors.New("unknown command")

// Commands は対応するサブコマンドの一覧。
var Commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数がなければserveとし、2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range Commands {
		if string(c) == args[0] {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %v)", ErrUnknownCommand, args[0], Commands)
}
