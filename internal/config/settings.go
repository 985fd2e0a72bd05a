// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config manages the tinychat settings record.
package config

// =============================================================================
// SETTINGS TYPES
// =============================================================================

// Settings is the full settings record persisted in setting.json.
//
// The general, shortcuts and account groups belong to desktop front ends. They
// are carried so the record round-trips unchanged.
type Settings struct {
	Account   AccountSettings  `json:"account" toml:"account"`
	General   GeneralSettings  `json:"general" toml:"general"`
	Shortcuts ShortcutSettings `json:"shortcuts" toml:"shortcuts"`
	Session   SessionSettings  `json:"session" toml:"session"`
	Other     OtherSettings    `json:"other" toml:"other"`
	Model     ModelSettings    `json:"model" toml:"model"`
}

// AccountSettings holds the user's profile.
type AccountSettings struct {
	AccountImage string `json:"accountImage" toml:"accountImage"`
}

// GeneralSettings holds window and display preferences.
type GeneralSettings struct {
	DisplayMode        string         `json:"displayMode" toml:"displayMode"`
	WindowTop          bool           `json:"windowTop" toml:"windowTop"`
	SaveWindowPosition bool           `json:"saveWindowPosition" toml:"saveWindowPosition"`
	SessionWakeUp      SessionWakeUp  `json:"sessionWakeUp" toml:"sessionWakeUp"`
	WindowSize         WindowSize     `json:"windowSize" toml:"windowSize"`
	WindowPosition     WindowPosition `json:"windowPosition" toml:"windowPosition"`
	FontFamily         string         `json:"fontFamily" toml:"fontFamily"`
	FontSize           int            `json:"fontSize" toml:"fontSize"`
}

// SessionWakeUp selects how a session is opened.
type SessionWakeUp struct {
	Thumbnail  string `json:"thumbnall" toml:"thumbnall"`
	MainWindow string `json:"mainWindow" toml:"mainWindow"`
}

// WindowSize is a width and height in pixels.
type WindowSize struct {
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`
}

// WindowPosition is the last remembered position. Zero values mean unset.
type WindowPosition struct {
	Width  int `json:"width,omitempty" toml:"width,omitempty"`
	Height int `json:"height,omitempty" toml:"height,omitempty"`
}

// ShortcutSettings holds key bindings.
type ShortcutSettings struct {
	Send                    string `json:"send" toml:"send"`
	Refresh                 string `json:"refresh" toml:"refresh"`
	Minimize                string `json:"minimize" toml:"minimize"`
	WindowTop               string `json:"windowTop" toml:"windowTop"`
	DoFixedWindowPosition   string `json:"doFixedWindowPosition" toml:"doFixedWindowPosition"`
	UndoFixedWindowPosition string `json:"undoFixedWindowPosition" toml:"undoFixedWindowPosition"`
}

// SessionSettings controls session listing and titling.
type SessionSettings struct {
	SourcePath        string `json:"sourcePath" toml:"sourcePath"`
	SortType          string `json:"sortType" toml:"sortType"`
	AutoTitleGenerate string `json:"autoTitleGenerate" toml:"autoTitleGenerate"`
}

// OtherSettings holds miscellaneous switches.
type OtherSettings struct {
	DevMode bool `json:"devMode" toml:"devMode"`
}

// ModelSettings configures the providers.
type ModelSettings struct {
	Common  CommonModelSettings `json:"common" toml:"common"`
	WenXin  WenXinSettings      `json:"wenxin" toml:"wenxin"`
	ChatGPT ChatGPTSettings     `json:"chatgpt" toml:"chatgpt"`
}

// CommonModelSettings apply to every provider.
type CommonModelSettings struct {
	DefaultModel string         `json:"defaultModel" toml:"defaultModel"`
	Options      LimitOptions   `json:"options" toml:"options"`
	Prompts      PromptSettings `json:"prompts" toml:"prompts"`
}

// LimitOptions bound the context window sent to a provider.
type LimitOptions struct {
	LimitsLength    int    `json:"limitsLength" toml:"limitsLength"`
	LimitsBehavior  string `json:"limitsBehavior" toml:"limitsBehavior"`
	LimitsCalculate string `json:"limitsCalculate" toml:"limitsCalculate"`
}

// PromptSettings are the built-in instructions.
type PromptSettings struct {
	GenerateTitle string `json:"generateTitle" toml:"generateTitle"`
}

// WenXinSettings configures the wenxin provider. AccessToken is used as is;
// when it is empty, APIKey and APISecret are exchanged for one.
type WenXinSettings struct {
	APIKey      string `json:"apiKey" toml:"apiKey"`
	APISecret   string `json:"apiSecret" toml:"apiSecret"`
	AccessToken string `json:"accessToken" toml:"accessToken"`
	URL         string `json:"url,omitempty" toml:"url,omitempty"`
}

// ChatGPTSettings configures the chatgpt provider.
type ChatGPTSettings struct {
	Token string        `json:"token" toml:"token"`
	Model string        `json:"model,omitempty" toml:"model,omitempty"`
	Proxy ProxySettings `json:"proxy" toml:"proxy"`
}

// ProxySettings routes chatgpt requests through a relay.
type ProxySettings struct {
	Address  string `json:"address" toml:"address"`
	Param    string `json:"param" toml:"param"`
	UseProxy bool   `json:"useProxy" toml:"useProxy"`
}

// =============================================================================
// CONSTANTS
// =============================================================================

// Provider names accepted by model.common.defaultModel.
const (
	ProviderChatGPT = "chatgpt"
	ProviderWenXin  = "wenxin"
)

// Title generation modes.
const (
	TitleNone      = "none"
	TitleOneStep   = "oneStep"
	TitleEveryTime = "everyTime"
)

// DefaultGenerateTitlePrompt instructs the provider to summarise a
// conversation as a title.
const DefaultGenerateTitlePrompt = "I need you to play a dialogue title generation role, you should distill the meaning of the dialogue as simple as possible and generate a reasonable title, the length of the title is less than 20 words, you just tell me the result without other thing, also you should answer me in the language of the dialogue"

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a fresh copy of the default settings.
func Default() Settings {
	return Settings{
		General: GeneralSettings{
			DisplayMode: "system",
			SessionWakeUp: SessionWakeUp{
				Thumbnail:  "hover",
				MainWindow: "click",
			},
			WindowSize: WindowSize{Width: 400, Height: 650},
			FontSize:   18,
		},
		Session: SessionSettings{
			SortType:          "normal",
			AutoTitleGenerate: TitleOneStep,
		},
		Model: ModelSettings{
			Common: CommonModelSettings{
				DefaultModel: ProviderChatGPT,
				Options: LimitOptions{
					LimitsLength:    5000,
					LimitsBehavior:  "failFast",
					LimitsCalculate: "block",
				},
				Prompts: PromptSettings{GenerateTitle: DefaultGenerateTitlePrompt},
			},
		},
	}
}
