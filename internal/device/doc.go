// Package device talks to door controllers over their local HTTP API.
//
// A controller (a Kapri style QR reader with relay outputs and a small
// 320x240 screen) accepts JSON instructions at POST {endpoint}/api/instruction:
//
//	{"msgType": "ins_inout_relay_operate",
//	 "msgArg": {"sPosition": "main", "ucRelayNum": 2, "ucTime_ds": 10}}
//
//	{"msgType": "ins_screen_html_document_write",
//	 "msgArg": {"sHtml": "<img src=\"boot.jpg\"/>"}}
//
// Instructions are fire once: Sender never retries. The package also owns
// the markup of the four screens the gateway uses (idle, loading, error,
// permit).
//
// # Usage
//
//	sender := device.NewSender(cfg.Device, nil)
//	if err := sender.OperateRelay(ctx, endpoint, 2, 10, "main"); err != nil {
//	    _ = sender.ShowError(ctx, endpoint)
//	}
package device
