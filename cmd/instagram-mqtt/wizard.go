package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/itxabrham07/instagram-mqtt/internal/config"

	"github.com/spf13/cobra"
)

var knownBridges = []struct {
	ID   string
	Desc string
}{{"none", "No mirror bridge"}, {"telegram", "Mirror messages to a Telegram chat"}, {"discord", "Mirror messages to a Discord channel"}, {"slack", "Mirror messages to a Slack channel"}}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: account → bot settings → mirror bridge → save config",
		Long:  "Guides you through the Instagram account, trigger character, admin handles, and optional mirror bridge (Telegram/Discord/Slack). Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Account
	fmt.Println("\n--- Step 1: Instagram account ---")
	fmt.Fprint(os.Stdout, "Username")
	username, err := prompt(cfg.Instagram.Username)
	if err != nil {
		return err
	}
	cfg.Instagram.Username = username
	fmt.Fprint(os.Stdout, "Password: paste it or reference an env var (e.g. ${IG_PASSWORD})")
	defPassword := cfg.Instagram.Password
	if defPassword == "" {
		defPassword = "${IG_PASSWORD}"
	}
	password, err := prompt(defPassword)
	if err != nil {
		return err
	}
	cfg.Instagram.Password = password

	// Step 2: Bot settings
	fmt.Println("\n--- Step 2: Bot settings ---")
	fmt.Fprint(os.Stdout, "Trigger character for commands")
	trigger, err := prompt(cfg.Bot.Trigger)
	if err != nil {
		return err
	}
	cfg.Bot.Trigger = trigger
	fmt.Fprint(os.Stdout, "Admin usernames (comma-separated, may be empty)")
	admins, err := prompt(strings.Join(cfg.Bot.Admins, ","))
	if err != nil {
		return err
	}
	cfg.Bot.Admins = nil
	for _, a := range strings.Split(admins, ",") {
		if a = strings.TrimSpace(a); a != "" {
			cfg.Bot.Admins = append(cfg.Bot.Admins, a)
		}
	}
	fmt.Fprintf(os.Stdout, "  Using trigger %q with %d admin(s)\n", cfg.Bot.Trigger, len(cfg.Bot.Admins))

	// Step 3: Mirror bridge
	fmt.Println("\n--- Step 3: Mirror bridge ---")
	for i, b := range knownBridges {
		fmt.Fprintf(os.Stdout, "  %d) %s — %s\n", i+1, b.ID, b.Desc)
	}
	fmt.Fprint(os.Stdout, "Choose bridge (1–"+strconv.Itoa(len(knownBridges))+")")
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownBridges) {
		idx = 1
	}
	bridgeID := knownBridges[idx-1].ID
	cfg.Bridge.Telegram.Enabled = bridgeID == "telegram"
	cfg.Bridge.Discord.Enabled = bridgeID == "discord"
	cfg.Bridge.Slack.Enabled = bridgeID == "slack"
	switch bridgeID {
	case "telegram":
		fmt.Fprint(os.Stdout, "Telegram bot token (from @BotFather)")
		tok, err := prompt(cfg.Bridge.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Bridge.Telegram.Token = tok
		fmt.Fprint(os.Stdout, "Telegram chat ID to mirror into")
		chat, err := prompt(strconv.FormatInt(cfg.Bridge.Telegram.ChatID, 10))
		if err != nil {
			return err
		}
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Bridge.Telegram.ChatID = id
		}
	case "discord":
		fmt.Fprint(os.Stdout, "Discord bot token")
		tok, err := prompt(cfg.Bridge.Discord.Token)
		if err != nil {
			return err
		}
		cfg.Bridge.Discord.Token = tok
		fmt.Fprint(os.Stdout, "Discord channel ID to mirror into")
		ch, err := prompt(cfg.Bridge.Discord.ChannelID)
		if err != nil {
			return err
		}
		cfg.Bridge.Discord.ChannelID = ch
	case "slack":
		fmt.Fprint(os.Stdout, "Slack bot token (xoxb-...)")
		tok, err := prompt(cfg.Bridge.Slack.BotToken)
		if err != nil {
			return err
		}
		cfg.Bridge.Slack.BotToken = tok
		fmt.Fprint(os.Stdout, "Slack channel to mirror into")
		ch, err := prompt(cfg.Bridge.Slack.Channel)
		if err != nil {
			return err
		}
		cfg.Bridge.Slack.Channel = ch
	}
	fmt.Fprintf(os.Stdout, "  Using bridge: %s\n", bridgeID)

	// Save
	cfgDir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'instagram-mqtt run' to start the bot, or 'instagram-mqtt doctor' to check the setup.")
	return nil
}
