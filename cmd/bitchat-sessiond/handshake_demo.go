/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qalandarov/bitchat/config"
	"github.com/qalandarov/bitchat/keychain"
	"github.com/qalandarov/bitchat/metrics"
	"github.com/qalandarov/bitchat/noise"
	"github.com/qalandarov/bitchat/relay"
	"github.com/qalandarov/bitchat/session"
	"github.com/qalandarov/bitchat/trust"
)

var handshakeDemoConfigPath string

var handshakeDemoCmd = &cobra.Command{
	Use:   "handshake-demo",
	Short: "Run a full XX handshake between two in-process peers and exchange one message",
	RunE:  runHandshakeDemo,
}

func init() {
	handshakeDemoCmd.Flags().StringVar(&handshakeDemoConfigPath, "config", "",
		"path to a YAML config file (see config.Load); defaults to config.Default()")
}

func runHandshakeDemo(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Default()
	if handshakeDemoConfigPath != "" {
		loaded, err := config.Load(handshakeDemoConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	log.WithField("max_age", time.Duration(cfg.Rekey.MaxAge)).Info("demo: rekey policy loaded")

	trustStore, err := trust.Open(":memory:")
	if err != nil {
		return err
	}
	defer trustStore.Close()

	initiatorKeys := keychain.NewMemory()
	responderKeys := keychain.NewMemory()

	initiatorStatic, err := initiatorKeys.LoadOrCreateStatic()
	if err != nil {
		return err
	}
	responderStatic, err := responderKeys.LoadOrCreateStatic()
	if err != nil {
		return err
	}

	initiatorPub, _ := initiatorStatic.Public()
	responderPub, _ := responderStatic.Public()
	initiatorID := session.PeerIDFromLongTermKey(initiatorPub[:])
	responderID := session.PeerIDFromLongTermKey(responderPub[:])

	initMetrics := metrics.NewCollector(prometheus.NewRegistry())
	respMetrics := metrics.NewCollector(prometheus.NewRegistry())
	rekeyPolicy := cfg.RekeyPolicy()

	initMgr, err := session.NewManager(initiatorKeys, onEstablished(log, "initiator"), onFailed(log, "initiator"),
		session.WithLogger(log), session.WithMetrics(initMetrics), session.WithRekeyPolicy(rekeyPolicy),
		session.WithCallbackBuffer(cfg.Manager.CallbackBuffer))
	if err != nil {
		return err
	}
	respMgr, err := session.NewManager(responderKeys, onEstablished(log, "responder"), onFailed(log, "responder"),
		session.WithLogger(log), session.WithMetrics(respMetrics), session.WithRekeyPolicy(rekeyPolicy),
		session.WithCallbackBuffer(cfg.Manager.CallbackBuffer))
	if err != nil {
		return err
	}

	msg1, err := initMgr.Initiate(responderID)
	if err != nil {
		return err
	}
	log.WithField("bytes", len(msg1)).Info("initiator: -> e")

	msg2, err := respMgr.HandleIncoming(initiatorID, msg1)
	if err != nil {
		return err
	}
	log.WithField("bytes", len(msg2)).Info("responder: <- e, ee, s, es")

	msg3, err := initMgr.HandleIncoming(responderID, msg2)
	if err != nil {
		return err
	}
	log.WithField("bytes", len(msg3)).Info("initiator: -> s, se")

	if _, err := respMgr.HandleIncoming(initiatorID, msg3); err != nil {
		return err
	}
	log.Info("responder: handshake complete")

	ct, err := initMgr.Encrypt(responderID, []byte("hello"))
	if err != nil {
		return err
	}
	pt, err := respMgr.Decrypt(initiatorID, ct)
	if err != nil {
		return err
	}
	log.WithField("plaintext", string(pt)).Info("responder: decrypted message")

	responderFingerprint := session.Fingerprint(responderPub)
	if err := trustStore.Verify(responderFingerprint); err != nil {
		return err
	}
	verified, err := trustStore.IsVerified(responderFingerprint)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"fingerprint": responderFingerprint, "verified": verified}).
		Info("demo: recorded responder fingerprint in trust store")

	senderRaw, err := hex.DecodeString(string(initiatorID))
	if err != nil {
		return err
	}
	var senderShort [8]byte
	copy(senderShort[:], senderRaw)
	envelope, ok := relay.EncodePM(string(ct), "mid-1", nil, senderShort, uint64(time.Now().UnixMilli()))
	if !ok {
		return fmt.Errorf("handshake-demo: failed to encode relay envelope")
	}
	fmt.Println("relay envelope:", envelope)
	fmt.Println("initiator peer id:", string(initiatorID))
	fmt.Println("responder peer id:", string(responderID))
	return nil
}

func onEstablished(log logrus.FieldLogger, who string) session.OnEstablished {
	return func(peer session.PeerID, remote noise.PublicKey) {
		log.WithFields(logrus.Fields{"role": who, "peer": string(peer)}).Info("session established")
	}
}

func onFailed(log logrus.FieldLogger, who string) session.OnFailed {
	return func(peer session.PeerID, cause error) {
		log.WithFields(logrus.Fields{"role": who, "peer": string(peer)}).WithError(cause).Warn("session failed")
	}
}
