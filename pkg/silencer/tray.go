package silencer

import (
	"github.com/getlantern/systray"

	"github.com/stalexteam/silencer/pkg/silencer/icon"
	"github.com/stalexteam/silencer/pkg/silencer/util"
)

const (
	trayTitle = "Silencer"

	toggleStartTitle = "Start"
	toggleStopTitle  = "Stop"
)

func (s *Silencer) initializeTray(onDone func()) {
	logger := s.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.SilencerLogoIdle, icon.SilencerLogoIdle)
		systray.SetTitle(trayTitle)
		systray.SetTooltip(trayTitle)

		toggle := systray.AddMenuItem(toggleStartTitle, "Start muting background applications")

		whitelist := systray.AddMenuItem("Whitelist mode", "Only mute applications on the list")
		if s.config.Policy().Whitelist {
			whitelist.Check()
		}

		systray.AddSeparator()

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with a text editor")
		editConfig.SetIcon(icon.EditConfig)

		refreshSessions := systray.AddMenuItem("Re-scan audio sessions", "Manually refresh audio sessions if something's stuck")
		refreshSessions.SetIcon(icon.RefreshSessions)

		var dumpStack *systray.MenuItem
		if s.verbose {
			dumpStack = systray.AddMenuItem("Dump stack trace", "Output all goroutines stack trace to log")
		}

		if s.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(s.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Restore all audio sessions and quit")

		stateChanges := s.scheduler.SubscribeToStateChanges()

		// wait on things to happen
		go func() {
			for {
				select {

				// quit
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					s.signalStop()

				// start/stop
				case <-toggle.ClickedCh:
					active := !s.scheduler.Active()
					logger.Infow("Toggle menu item clicked", "active", active)

					s.setActive(active)

				// keep the menu in sync no matter who changed the state
				case active := <-stateChanges:
					if active {
						toggle.SetTitle(toggleStopTitle)
						systray.SetTemplateIcon(icon.SilencerLogo, icon.SilencerLogo)
					} else {
						toggle.SetTitle(toggleStartTitle)
						systray.SetTemplateIcon(icon.SilencerLogoIdle, icon.SilencerLogoIdle)
					}

				// mode
				case <-whitelist.ClickedCh:
					enable := !whitelist.Checked()
					logger.Infow("Whitelist menu item clicked", "whitelist", enable)

					if err := s.config.SetWhitelist(enable); err != nil {
						logger.Warnw("Failed to save working mode", "error", err)
					}

					if enable {
						whitelist.Check()
					} else {
						whitelist.Uncheck()
					}

				// edit config
				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					if err := util.OpenExternal(logger, util.DefaultEditor(), userConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				// refresh sessions
				case <-refreshSessions.ClickedCh:
					logger.Info("Refresh sessions menu item clicked, triggering session refresh")

					s.requestRefresh()
					s.scheduler.Kick()
				}
			}
		}()

		if dumpStack != nil {
			go func() {
				for {
					<-dumpStack.ClickedCh
					logger.Info("Dump stack trace menu item clicked, outputting all goroutines stack trace")
					util.DumpAllGoroutines(logger)
				}
			}()
		}

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (s *Silencer) stopTray() {
	s.logger.Debug("Quitting tray")
	systray.Quit()
}
