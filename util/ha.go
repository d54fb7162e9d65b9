package util

import (
	"encoding/json"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

type HAAvailability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

type HADeviceSpec struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"ids"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
}

// HALightAdvertisement is a Home Assistant MQTT light using the JSON schema,
// so commands arrive as {"state":"ON","effect":"grow","color":{...}}.
type HALightAdvertisement struct { //nolint:govet // struct layout optimized for JSON field order
	Availability        []HAAvailability `json:"availability"`
	Device              HADeviceSpec     `json:"device"`
	UniqueID            string           `json:"uniq_id"`
	Name                string           `json:"name"`
	Schema              string           `json:"schema"`
	CommandTopic        string           `json:"command_topic"`
	StateTopic          string           `json:"state_topic"`
	Effect              bool             `json:"effect"`
	EffectList          []string         `json:"effect_list"`
	SupportedColorModes []string         `json:"supported_color_modes"`
	Brightness          bool             `json:"brightness"`
	Platform            string           `json:"platform"`
	Qos                 int              `json:"qos"`
}

func (ha HALightAdvertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		Logger.Error().Msgf("Error marshalling HALightAdvertisement: %v", err)
		return ""
	}
	return string(data)
}

// HADiscoveryTopic is where the light entity for name is announced.
func HADiscoveryTopic(name string) string {
	return "homeassistant/light/" + name + "/config"
}

func ConstructHAAdvertisement(name string, effects []string) HALightAdvertisement {
	return HALightAdvertisement{
		Name:         name,
		Schema:       "json",
		CommandTopic: Topic("set"),
		StateTopic:   Topic("state"),
		Effect:       len(effects) > 0,
		EffectList:   effects,
		// rgbw is the only mode; the remote API takes four channels per pixel
		SupportedColorModes: []string{"rgbw"},
		Brightness:          false,
		Availability: []HAAvailability{
			{
				Topic:               AvailabilityTopic(),
				PayloadAvailable:    PayloadOnline,
				PayloadNotAvailable: PayloadOffline,
			},
		},
		Qos:      0,
		UniqueID: "strip_controller-" + name,
		Platform: "light",
		Device: HADeviceSpec{
			Name:         "strip_controller",
			Identifiers:  []string{"strip_controller-" + name},
			Manufacturer: "strip_controller",
			Model:        "rgbw strip",
		},
	}
}

func AdvertiseHA(name string, effects []string, client MQTT.Client) error {
	ha := ConstructHAAdvertisement(name, effects)
	if token := client.Publish(HADiscoveryTopic(name), 0, true, ha.ToJson()); token.Wait() && token.Error() != nil {
		return fmt.Errorf("error publishing discovery for %s: %w", name, token.Error())
	}
	return nil
}
