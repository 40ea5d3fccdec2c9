// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// personaVar is the global the evasion script reads its values from.
const personaVar = "OTPB_PERSONA"

// Apply returns the protocol actions that make an automated tab present the
// persona: headers, user agent override, viewport and the document-start
// evasion script. It must run before the first navigation.
func Apply(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		setExtraHTTPHeaders(persona, l),
		setUserAgent(persona, l),
		setDeviceMetrics(persona, l),
		injectEvasionScript(persona, l),
		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Stealth persona applied", zap.String("user_agent", persona.UserAgent), zap.String("platform", persona.Platform))
			return nil
		}),
	}
}

// Script returns the evasion source with the persona bound to it.
func Script(persona schemas.Persona) (string, error) {
	personaJSON, err := json.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("const %s = %s;\n%s", personaVar, personaJSON, evasionsScript), nil
}

func injectEvasionScript(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		script, err := Script(persona)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			logger.Error("Failed to register evasion script", zap.Error(err))
			return fmt.Errorf("stealth: failed to add script on new document: %w", err)
		}
		return nil
	})
}

func setUserAgent(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		err := emulation.SetUserAgentOverride(persona.UserAgent).
			WithPlatform(persona.Platform).
			WithAcceptLanguage(persona.AcceptLanguage()).
			Do(ctx)
		if err != nil {
			logger.Error("Failed to set user agent override", zap.Error(err))
			return fmt.Errorf("stealth: failed to set user agent override: %w", err)
		}
		return nil
	})
}

func setExtraHTTPHeaders(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(persona.Languages) == 0 {
			return nil
		}
		headers := network.Headers{"Accept-Language": persona.AcceptLanguage()}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers", zap.Error(err))
			return fmt.Errorf("stealth: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

func setDeviceMetrics(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.Width <= 0 || persona.Height <= 0 {
			return nil
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if persona.Height > persona.Width {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		err := emulation.SetDeviceMetricsOverride(persona.Width, persona.Height, 1.0, false).
			WithScreenOrientation(&emulation.ScreenOrientation{Type: orientation, Angle: 0}).
			Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics", zap.Error(err))
			return fmt.Errorf("stealth: failed to set device metrics: %w", err)
		}
		return nil
	})
}
