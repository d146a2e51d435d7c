package device

import (
	"bytes"
	"html/template"
	"time"
)

// Fixed screens. The images are stored on the controller.
const (
	IdleScreen    = `<img src="boot.jpg"/>`
	LoadingScreen = `<img src="loading.gif" width="320" height="240"/>`
	ErrorScreen   = `
      <div class="container" style="text-align: center;">
        <h1 style="color: red">Error</h1>

        <h3>Vuelva a intentarlo</h3>
      </div>
    `
)

// TimeLayout is how the permit screen renders the access time.
const TimeLayout = "2/1/2006, 15:04:05"

var permitTemplate = template.Must(template.New("permit").Parse(`
    <style>
      .container {
        width: 320px;
        height: 240px;
        border: solid 1px #ccc;
        background-image: url('background2.jpeg');
        background-size: cover;
        background-repeat: no-repeat;
      }
      .container h1 {
        margin-top: 30px;
      }
    </style>

    <div class="container" style="text-align: center;">
      <h1 style="color: green">Acceso permitido</h1>

      <h3>Bienvenido {{.FullName}}</h3>
      <h4>Hora: {{.Time}}</h4>

      <h3>Abriendo acceso: {{.DoorName}}</h3>
    </div>
    `))

// PermitScreen renders the access granted screen. Names are HTML escaped.
func PermitScreen(fullName, doorName string, at time.Time) string {
	var buf bytes.Buffer
	// The template only references string fields of a literal struct,
	// so Execute cannot fail.
	_ = permitTemplate.Execute(&buf, struct {
		FullName string
		Time     string
		DoorName string
	}{
		FullName: fullName,
		Time:     at.Format(TimeLayout),
		DoorName: doorName,
	})
	return buf.String()
}
