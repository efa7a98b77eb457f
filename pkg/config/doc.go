// Package config loads typed configuration structs from environment
// variables via caarlos0/env, with optional dotenv support for local
// development. Each struct type is parsed once and cached, so components can
// each declare their own Config without coordinating load order.
package config
