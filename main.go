package main

import (
	"context"
	"crypto/tls"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/elijahnyp/strip_controller/animation"
	"github.com/elijahnyp/strip_controller/device"
	"github.com/elijahnyp/strip_controller/strip"
	. "github.com/elijahnyp/strip_controller/util"
)

const (
	onlineInterval    = 10 * time.Second
	advertiseInterval = 5 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// app ties the long-lived pieces together so config reloads can rebuild the
// engine without dropping MQTT or HTTP.
type app struct {
	mu       sync.Mutex
	settings Settings
	ctrl     *Controller
	monitor  *StripMonitor
	hub      *WSHub
}

// engineSettings keeps only what the engine, buffer and device depend on.
func engineSettings(s Settings) Settings {
	s.LogLevel = ""
	s.TopicBase = ""
	s.DetailsPort = 0
	s.InsecureTLS = false
	return s
}

func buildEngine(s Settings, observer func(strip.Snapshot)) (*animation.Engine, *strip.Presets, error) {
	buf, err := strip.NewBuffer(s.StripLength)
	if err != nil {
		return nil, nil, err
	}
	dev, err := device.New(device.Options{
		BaseURL:     s.BaseURL,
		APIKey:      s.APIKey,
		DeviceName:  s.DeviceName,
		Timeout:     s.PushTimeout,
		MaxRetries:  s.MaxRetries,
		BaseBackoff: s.BaseBackoff,
		MaxBackoff:  s.MaxBackoff,
		Logger:      &Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	presets, err := strip.LoadPresets(s.PresetsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		Logger.Debug().Msgf("no preset file at %v, using built-in presets", s.PresetsFile)
	case err != nil:
		Logger.Warn().Msgf("error loading presets: %v", err)
	}

	cfg := animation.DefaultConfig()
	cfg.StepInterval = s.StepInterval
	cfg.SettleDelay = s.SettleDelay
	cfg.AlternatePeriod = s.AlternatePeriod
	cfg.GrowStep = s.GrowStep
	cfg.ChaseWidth = s.ChaseWidth
	engine := animation.NewEngine(buf, dev,
		animation.WithConfig(cfg),
		animation.WithLogger(Logger),
		animation.WithObserver(observer),
	)
	return engine, presets, nil
}

// reconfigure rebuilds the engine when a setting it depends on changed.
func (a *app) reconfigure() {
	s, err := LoadSettings()
	if err != nil {
		Logger.Error().Msgf("invalid settings: %v", err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctrl != nil && engineSettings(s) == engineSettings(a.settings) {
		a.settings = s
		return
	}
	engine, presets, err := buildEngine(s, a.monitor.Observe)
	if err != nil {
		Logger.Error().Msgf("unable to build strip engine: %v", err)
		return
	}
	if a.ctrl == nil {
		a.ctrl = NewController(engine, presets, WithNotifier(a.hub.BroadcastUpdate))
	} else {
		Logger.Info().Msg("strip settings changed, rebuilding engine")
		a.ctrl.Replace(engine, presets)
	}
	a.monitor.Reset(s.StripLength)
	a.settings = s
}

func (a *app) controller() *Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctrl
}

func (a *app) submit(source string, cmd Command, err error) {
	if err == nil {
		err = a.controller().Submit(cmd)
	}
	if err != nil {
		Logger.Warn().Msgf("rejected command from %v: %v", source, err)
		if perr := Publish(Topic("error"), false, mustJSON(apiError{err.Error()})); perr != nil {
			Logger.Debug().Msgf("error not published: %v", perr)
		}
	}
}

func (a *app) onCommand(client MQTT.Client, message MQTT.Message) {
	cmd, err := ParseCommand(message.Payload())
	a.submit(message.Topic(), cmd, err)
}

func (a *app) onPreset(client MQTT.Client, message MQTT.Message) {
	cmd, err := PresetCommand(string(message.Payload()))
	a.submit(message.Topic(), cmd, err)
}

func (a *app) subscribeCommandTopics() {
	ClearMQTTSubscriptions()
	RegisterMQTTSubscription(Topic("set"), a.onCommand)
	RegisterMQTTSubscription(Topic("set", "preset"), a.onPreset)
}

func haName() string {
	if name := Config.GetString("device_name"); name != "" {
		return name
	}
	return Topic()
}

func advertise(client MQTT.Client) {
	if err := AdvertiseHA(haName(), Effects(), client); err != nil {
		Logger.Error().Msgf("Error advertising to Home Assistant: %v", err)
	}
}

func main() {
	LogInit("trace")
	SetupConfig()
	RegisterNewConfigListener(func() { LogInit(Config.GetString("log_level")) })
	if Config.GetBool("insecure_tls") {
		Logger.Debug().Msg("disabling tls")
		if transport, ok := http.DefaultTransport.(*http.Transport); ok {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // intentional for testing environments
		} else {
			Logger.Warn().Msg("Failed to configure insecure TLS: transport type assertion failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := NewHub()
	go hub.Run(ctx)

	a := &app{hub: hub, monitor: NewStripMonitor(hub, Config.GetInt("strip_length"))}
	a.reconfigure()
	if a.controller() == nil {
		Logger.Fatal().Msg("unable to start without a working strip configuration")
	}
	RegisterNewConfigListener(func() { a.reconfigure() })
	RegisterNewConfigListener(func() { a.subscribeCommandTopics() })
	RegisterMQTTConnectHook("haadvertise", advertise)
	RegisterNewConfigListener(MqttInit)
	OnNewConfig()

	monitor := NewMonitorServer()
	api := &webAPI{ctrl: a.controller(), monitor: a.monitor, hub: hub}
	api.register(monitor)
	if err := monitor.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	RegisterNewConfigListener(func() { monitor.Restart() })

	var forwarder PreviewForwarder
	forwarder.MakePreviewForwarder()
	forwarder.Start(ctx, api)

	Logger.Info().Msg("ready")
	go OnlinePinger(ctx)
	go HAAdvertiser(ctx)

	<-ctx.Done()
	Logger.Info().Msg("shutting down")
	a.controller().Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	monitor.Shutdown(shutdownCtx)
	if Client != nil && Client.IsConnected() {
		if err := Publish(AvailabilityTopic(), false, PayloadOffline); err != nil {
			Logger.Warn().Msgf("Error publishing offline message: %v", err)
		}
		Client.Disconnect(1000)
	}
}

// OnlinePinger refreshes the availability topic until ctx ends.
func OnlinePinger(ctx context.Context) {
	ticker := time.NewTicker(onlineInterval)
	defer ticker.Stop()
	for {
		if Client != nil && Client.IsConnected() {
			if err := Publish(AvailabilityTopic(), false, PayloadOnline); err != nil {
				Logger.Error().Msgf("Error publishing online message: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HAAdvertiser - advertises Home Assistant discovery messages every 5 minutes
func HAAdvertiser(ctx context.Context) {
	ticker := time.NewTicker(advertiseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if Client != nil && Client.IsConnected() {
			Logger.Debug().Msg("Advertising Home Assistant discovery messages")
			advertise(Client)
		}
	}
}
