// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a settings validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validProviders   = []string{ProviderChatGPT, ProviderWenXin}
	validBehaviors   = []string{"failFast", "failSafe"}
	validCalculates  = []string{"block", "character"}
	validSortTypes   = []string{"normal", "createTime", "createTimeDesc"}
	validTitleModes  = []string{TitleNone, TitleOneStep, TitleEveryTime}
	validDisplayMode = []string{"system", "dark", "light"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks enumerations, limits and URLs.
func (s Settings) Validate() error {
	var errs ValidateErrors

	check := func(field, value string, allowed []string) {
		if !oneOf(value, allowed) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid value '%s', must be one of: %s", value, strings.Join(allowed, ", ")),
			})
		}
	}

	opts := s.Model.Common.Options
	check("model.common.defaultModel", s.Model.Common.DefaultModel, validProviders)
	check("model.common.options.limitsBehavior", opts.LimitsBehavior, validBehaviors)
	check("model.common.options.limitsCalculate", opts.LimitsCalculate, validCalculates)
	check("session.sortType", s.Session.SortType, validSortTypes)
	check("session.autoTitleGenerate", s.Session.AutoTitleGenerate, validTitleModes)
	check("general.displayMode", s.General.DisplayMode, validDisplayMode)

	if opts.LimitsLength <= 0 {
		errs = append(errs, ValidationError{
			Field:   "model.common.options.limitsLength",
			Message: fmt.Sprintf("must be positive, got %d", opts.LimitsLength),
		})
	}

	if s.Model.ChatGPT.Proxy.UseProxy {
		if err := checkURL(s.Model.ChatGPT.Proxy.Address); err != nil {
			errs = append(errs, ValidationError{Field: "model.chatgpt.proxy.address", Message: err.Error()})
		}
	}
	if s.Model.WenXin.URL != "" {
		if err := checkURL(s.Model.WenXin.URL); err != nil {
			errs = append(errs, ValidationError{Field: "model.wenxin.url", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got '%s'", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: '%s'", raw)
	}
	return nil
}

// normalize replaces invalid enumerations and limits with their defaults so a
// hand-edited file never leaves the application without a usable value. It
// returns the fields it reset.
func (s *Settings) normalize() []string {
	d := Default()
	var reset []string

	fix := func(field string, v *string, allowed []string, def string) {
		if !oneOf(*v, allowed) {
			*v = def
			reset = append(reset, field)
		}
	}

	fix("model.common.defaultModel", &s.Model.Common.DefaultModel, validProviders, d.Model.Common.DefaultModel)
	fix("model.common.options.limitsBehavior", &s.Model.Common.Options.LimitsBehavior, validBehaviors, d.Model.Common.Options.LimitsBehavior)
	fix("model.common.options.limitsCalculate", &s.Model.Common.Options.LimitsCalculate, validCalculates, d.Model.Common.Options.LimitsCalculate)
	fix("session.sortType", &s.Session.SortType, validSortTypes, d.Session.SortType)
	fix("session.autoTitleGenerate", &s.Session.AutoTitleGenerate, validTitleModes, d.Session.AutoTitleGenerate)
	fix("general.displayMode", &s.General.DisplayMode, validDisplayMode, d.General.DisplayMode)

	if s.Model.Common.Options.LimitsLength <= 0 {
		s.Model.Common.Options.LimitsLength = d.Model.Common.Options.LimitsLength
		reset = append(reset, "model.common.options.limitsLength")
	}
	if strings.TrimSpace(s.Model.Common.Prompts.GenerateTitle) == "" {
		s.Model.Common.Prompts.GenerateTitle = d.Model.Common.Prompts.GenerateTitle
		reset = append(reset, "model.common.prompts.generateTitle")
	}
	return reset
}
