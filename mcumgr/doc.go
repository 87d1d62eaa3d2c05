// Package mcumgr provides managers for the MCU management command groups.
//
// # Overview
//
// A Manager owns a transport reference, the MTU and the sequence counter
// for one command group. Group managers wrap it with typed commands:
//   - DefaultManager: echo, task and memory pool statistics, clock, reset
//   - ImageManager: image state, test, confirm, erase and chunked upload
//   - FileSystemManager: chunked file upload and download
//   - StatsManager: statistics groups
//   - ConfigManager: device settings
//   - LogManager: device logs
//
// FirmwareUpgradeManager combines the image and default groups into a full
// upgrade: upload, test, reset and confirm.
//
// # Basic Usage
//
// The transport is supplied by the caller:
//
//	t := sim.New(sim.WithScheme(protocol.SchemeBLE))
//
//	dm := mcumgr.NewDefaultManager(t)
//	reply, err := dm.Echo(ctx, "hello")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Uploads
//
// Image and file uploads run in the background and report to a
// transfer.Observer:
//
//	img := mcumgr.NewImageManager(t, mcumgr.WithLogger(logger))
//	img.Upload(data, transfer.ObserverFuncs{
//	    OnProgress: func(sent, total uint64, _ time.Time) {
//	        fmt.Printf("%d/%d\n", sent, total)
//	    },
//	    OnFinished: func() { close(done) },
//	    OnFailed:   func(err error) { log.Println(err) },
//	})
//
// An upload that hits an insufficient-MTU error lowers the manager's MTU and
// restarts from offset zero, up to WithMaxMtuRestarts times.
//
// # Firmware Upgrades
//
// An upgrade reports each step to StateChanged and the upload progress to
// ProgressChanged:
//
//	dfu := mcumgr.NewFirmwareUpgradeManager(t, mcumgr.WithResetDelay(5*time.Second))
//	err := dfu.Start(ctx, data, mcumgr.ModeTestAndConfirm, mcumgr.UpgradeObserverFuncs{
//	    OnStateChanged: func(from, to mcumgr.UpgradeState) { log.Println(from, "->", to) },
//	})
//
// A failed upgrade reports an *UpgradeError naming the step that failed.
//
// # Error Handling
//
// Commands return:
//   - *protocol.ReturnCodeError: the device answered with a non-zero rc
//   - *transport.Error: the link failed
//   - protocol.ErrInvalidPayload: the response could not be decoded
//   - *DownloadError: a file download was answered inconsistently
package mcumgr
