package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
)

// A very simple CLI tool for the administration of veilchat rooms: this is
// the out-of-band path that creates group rooms (capacity > 2), issues bans
// and injects system messages into the durable history.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	st, err := store.NewStore(globalConfig)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms",
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show public rooms",
		Long:  `show rooms lists all public rooms.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := st.ListPublicRooms()
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			r, err := json.Marshal(rooms)
			if err != nil {
				globals.AppLogger.Error("could not marshal rooms", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := st.GetRoom(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			participants, err := st.ListParticipants(room.Id)
			if err != nil {
				globals.AppLogger.Error("could not get participants", "error", err)
				return
			}
			out, err := json.Marshal(map[string]interface{}{
				"room":         room,
				"participants": participants,
			})
			if err != nil {
				globals.AppLogger.Error("could not marshal room", "error", err)
				return
			}
			fmt.Println(string(out))
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update a room",
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a room. If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			dec := json.NewDecoder(r)
			room := types.Room{}
			err := dec.Decode(&room)
			if err != nil {
				globals.AppLogger.Error("could not decode room", "error", err)
				return
			}
			if room.Id == "" {
				globals.AppLogger.Error("no room id")
				return
			}
			if room.MaxParticipants < types.DefaultMaxParticipants {
				room.MaxParticipants = types.DefaultMaxParticipants
			}
			err = st.CreateRoom(&room)
			if err != nil {
				globals.AppLogger.Error("could not store room", "error", err)
				return
			}
		},
	}
	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete a room",
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id, including its messages, participants, bans and music state.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := st.DeleteRoom(args[0])
			if err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
				return
			}
		},
	}
	var cmdBan = &cobra.Command{
		Use:   "ban",
		Short: "ban a user or ip from a room",
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdBanUser = &cobra.Command{
		Use:   "user [room id] [user id]",
		Short: "Ban user",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := st.BanUser(args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not ban user", "error", err)
			}
		},
	}
	var cmdBanIP = &cobra.Command{
		Use:   "ip [room id] [ip]",
		Short: "Ban ip",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := st.BanIP(args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not ban ip", "error", err)
			}
		},
	}
	var cmdSystem = &cobra.Command{
		Use:   "system [room id] [message]",
		Short: "Append a system message to a room's history",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			msg := &types.Message{
				RoomId:    args[0],
				Sender:    types.SystemSender,
				Type:      types.MessageTypeSystem,
				Content:   args[1],
				Timestamp: time.Now(),
			}
			if err := msg.CreateId(); err != nil {
				globals.AppLogger.Error("could not hash message", "error", err)
				return
			}
			if err := st.AppendMessage(args[0], msg); err != nil {
				globals.AppLogger.Error("could not store message", "error", err)
			}
		},
	}
	var rootCmd = &cobra.Command{Use: "veilchat-admin"}
	rootCmd.AddCommand(cmdShow, cmdSet, cmdDelete, cmdBan, cmdSystem)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom)
	cmdSet.AddCommand(cmdSetRoom)
	cmdDelete.AddCommand(cmdDeleteRoom)
	cmdBan.AddCommand(cmdBanUser, cmdBanIP)
	rootCmd.Execute()
}
