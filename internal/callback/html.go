package callback

const successHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Signed in</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #f5f6f8; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
.card { background: #fff; border-radius: 8px; padding: 2rem 2.5rem; box-shadow: 0 2px 12px rgba(0,0,0,.08); max-width: 28rem; text-align: center; }
h1 { font-size: 1.4rem; color: #1a7f37; }
code { background: #f0f1f3; padding: .1rem .3rem; border-radius: 4px; }
</style>
</head>
<body>
<div class="card">
<h1>Signed in</h1>
<p>You can close this window and return to the terminal.</p>
<p>Resuming at <code>{{DETAIL}}</code></p>
</div>
</body>
</html>`

const failureHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sign-in failed</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #f5f6f8; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
.card { background: #fff; border-radius: 8px; padding: 2rem 2.5rem; box-shadow: 0 2px 12px rgba(0,0,0,.08); max-width: 28rem; text-align: center; }
h1 { font-size: 1.4rem; color: #cf222e; }
</style>
</head>
<body>
<div class="card">
<h1>Sign-in failed</h1>
<p>{{DETAIL}}</p>
</div>
</body>
</html>`
