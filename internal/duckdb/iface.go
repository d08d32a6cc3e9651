package duckdb

import "github.com/networkbuster/compositor/internal/model"

var (
	_ model.EventWriter    = (*Store)(nil)
	_ model.HistoryQuerier = (*Store)(nil)
)
