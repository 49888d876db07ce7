package license

// DefaultPublicKeyPEM is the authority verification key baked into the
// binary. Deployments can override it via LicenseConfig.PublicKeyPath, for
// example when pointing at a staging authority.
const DefaultPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIICIjANBgkqhkiG9w0BAQEFAAOCAg8AMIICCgKCAgEApwqdOm7e8f3rNe8U72Sn
xEPCaYdfuN81pI3cXfYsVh7umABge1ybPD1waQkzwSkJ/oq6XvGkm+H1ThMfLuxU
Eu0UXKM5rPVdgVb7cMWAo73jajBG+JPOopPxb15A5ikLbLNod6OwekZ3GlNezEsb
OSEdEHpk2fqtBOE9UdYhd0U5b10JYtFQhoLykZnZF6YvG/u2z9WKhZjsGnM6fTvw
Bxff0tcFICFCv/VtsTAZxRETCExsurARLwn7APiwzueShVs2dclq00Evx8RL2ABr
LgKmDboDn+MyGioF5J+YYN6LFetuLhSHvnq4JHa6D2vVZgAv1SMIPwncpZJiDn7G
w7LKWzRk1Bg5tvWfO64+PaF7n4umUxvFr1qPtNE8zUUR4Qc1c9O7uPWY2YPvJBtj
wwI+V1Nf3FMNoDshYTJLWd58+3bLpiSmlbPCtHClOsvHAA4t2qts56+WOfhmvuBv
2WaTvc7fDWmmIsAwBJc4W3rCLHZF8ECMi884lXsWCUL2vgRKBB9qdVlJifKEnD2X
QX6n1gGhbq/D8IPQBtKbDyZzJUMxImK5prMtEbFw82W1gtBUvHre3CIBh719+8+J
K0NSIcHmyNccqCmB1dDMvWIUmX9not1GTR4OnuZPFFbynpuuP2V4qALvmcJ/VnYy
la1qck6hWV309iLxKJEd0jUCAwEAAQ==
-----END PUBLIC KEY-----
`
