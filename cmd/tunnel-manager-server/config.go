package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EternisAI/tunnel-manager/internal/app"
)

var config app.Config

func InitConfig() {
	var err error
	config, err = app.LoadConfig("./cmd/tunnel-manager-server")
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
