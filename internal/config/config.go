package config

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	LogZapMode               string `mapstructure:"LOG_ZAP_MODE"`
	PrintConfigurationToLogs string `mapstructure:"PRINT_CONFIGURATION_TO_LOGS"`

	DiscordBotToken  string `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordChannelID string `mapstructure:"DISCORD_CHANNEL_ID"`
	DiscordAppID     string `mapstructure:"DISCORD_APP_ID"`
	DiscordGuildID   string `mapstructure:"DISCORD_GUILD_ID"`

	NftContractAddress  string `mapstructure:"NFT_CONTRACT_ADDRESS"`
	WethContractAddress string `mapstructure:"WETH_CONTRACT_ADDRESS"`
	AlchemyApiKey       string `mapstructure:"ALCHEMY_API_KEY"`
	EthereumNodeUrl     string `mapstructure:"ETHEREUM_NODE_URL"`

	WebhookPort   int    `mapstructure:"WEBHOOK_PORT"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`

	PollEnabled         bool   `mapstructure:"POLL_ENABLED"`
	PollIntervalSeconds uint64 `mapstructure:"POLL_INTERVAL_SECONDS"`
	ScanChunkSize       uint64 `mapstructure:"SCAN_CHUNK_SIZE"`
	ScanMaxChunks       int    `mapstructure:"SCAN_MAX_CHUNKS"`

	PipelineWorkers       int `mapstructure:"PIPELINE_WORKERS"`
	PipelineQueueCapacity int `mapstructure:"PIPELINE_QUEUE_CAPACITY"`
}

var lock = &sync.Mutex{}
var config *Config

var Get = get

func get() Config {
	if config == nil {
		lock.Lock()
		defer lock.Unlock()
		if config == nil {
			c := loadConfig()
			config = &c
		}
	}
	return *config
}

func loadConfig() Config {
	_ = godotenv.Load()
	viperAddConfigFile()
	viperAddEnv()
	viperSetDefaults()
	cfg := initializeCfg()
	debugConfig(cfg)
	return cfg
}

func viperAddConfigFile() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
}

func viperAddEnv() {
	viper.AutomaticEnv()
	// This makes sure that all envs are binded even if they are not represented in config file (https://github.com/spf13/viper/issues/584)
	valueOfConfig := reflect.ValueOf(&Config{}).Elem()
	fieldsOfConfig := reflect.TypeOf(&Config{}).Elem()
	for i := 0; i < valueOfConfig.NumField(); i++ {
		field, _ := fieldsOfConfig.FieldByName(valueOfConfig.Type().Field(i).Name)
		mapStructureVal := field.Tag.Get("mapstructure")
		err := viper.BindEnv(mapStructureVal)
		if err != nil {
			panic(fmt.Sprintf("Error binding env val '%v': %v", mapStructureVal, err))
		}
	}
	// Hosting platforms inject PORT; it applies when WEBHOOK_PORT is not set.
	if err := viper.BindEnv("WEBHOOK_PORT", "WEBHOOK_PORT", "PORT"); err != nil {
		panic(fmt.Sprintf("Error binding env val 'WEBHOOK_PORT': %v", err))
	}
}

func viperSetDefaults() {
	viper.SetDefault("WEBHOOK_PORT", 8080)
}

func initializeCfg() Config {
	var cfg Config
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else {
			panic(fmt.Sprintf("fatal error reading config file: %v", err))
		}
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		panic(fmt.Sprintf("error unmarshaling config: %v", err))
	}
	return cfg
}

func debugConfig(cfg Config) {
	if cfg.PrintConfigurationToLogs == "true" {
		b, err := json.Marshal(cfg)
		var result string
		if err != nil {
			result = "[FAILED TO CONVERT CONF TO STRING]"
		} else {
			result = string(b)
		}
		log.Printf("[APP CONFIGURATION]: %v\n", result)
	}
}
