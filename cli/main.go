package main

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

func main() {
	viper.SetConfigFile(".env")
	if err := viper.ReadInConfig(); err != nil {
		data := make(map[string]any)
		_ = mapstructure.Decode(&cfg, &data)
		_ = viper.MergeConfigMap(data)
		viper.SetConfigType("env")
		_ = viper.WriteConfigAs(".env")
		fmt.Println("an empty .env file was created, please fill it out and try again.")
		_ = rootCmd.Help()
		return
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	_ = rootCmd.Execute()
}
